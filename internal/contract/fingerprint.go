package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Canonicalize produces a deterministic byte serialization of a parsed
// document tree: keys sorted lexicographically at every level, sequences
// preserved in declaration order, whitespace normalized. excludeKey
// (typically "fingerprint") is omitted from the top-level map so the
// fingerprint can be computed over the rest of the document and
// compared against the declared value.
func Canonicalize(tree interface{}, excludeKey string) []byte {
	var b strings.Builder
	canonicalize(&b, tree, excludeKey, true)
	return []byte(b.String())
}

func canonicalize(b *strings.Builder, v interface{}, excludeKey string, top bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			if top && k == excludeKey {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			canonicalize(b, t[k], excludeKey, false)
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, e, excludeKey, false)
		}
		b.WriteByte(']')
	case string:
		b.WriteString(strconv.Quote(t))
	case bool:
		b.WriteString(strconv.FormatBool(t))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case nil:
		b.WriteString("null")
	default:
		b.WriteString(fmt.Sprintf("%v", t))
	}
}

// ComputeFingerprint concatenates "<major>.<minor>.<patch>:sha256:<hex>"
// over the canonical bytes.
func ComputeFingerprint(v Version, canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return fmt.Sprintf("%s:sha256:%s", v.String(), hex.EncodeToString(sum[:]))
}
