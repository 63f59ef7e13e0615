package contract

import (
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches "${...}" occurrences inside a template string.
var refPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// allowedPrefixes are the only valid binding scopes a template reference
// may name.
var allowedPrefixes = map[string]bool{
	"env":     true,
	"input":   true,
	"context": true,
	"config":  true,
}

// validateTemplateString extracts every ${...} reference in s and checks
// its scope prefix. The "${ref:default}" default-value syntax is
// recognized: only the portion before the first ':' is treated as the
// reference path.
func validateTemplateString(s string) error {
	for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
		ref := m[1]
		if idx := strings.IndexByte(ref, ':'); idx >= 0 {
			ref = ref[:idx]
		}
		prefix, _, found := strings.Cut(ref, ".")
		if !found || !allowedPrefixes[prefix] {
			return fmt.Errorf("unknown reference prefix in %q: expected one of env./input./context./config.", m[0])
		}
	}
	return nil
}

// walkTemplateStrings recursively visits every string leaf of an arbitrary
// nested structure (map/slice/string/scalar), calling fn on each.
func walkTemplateStrings(v interface{}, fn func(string) error) error {
	switch t := v.(type) {
	case string:
		return fn(t)
	case map[string]interface{}:
		for _, val := range t {
			if err := walkTemplateStrings(val, fn); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, val := range t {
			if err := walkTemplateStrings(val, fn); err != nil {
				return err
			}
		}
	case map[string]string:
		for _, val := range t {
			if err := fn(val); err != nil {
				return err
			}
		}
	}
	return nil
}
