package contract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParsePathExpression parses a response-mapping expression of the form
// "$." + segment(.segment)*, optionally followed by " ?? " + literal. A
// segment is either a bare identifier, "[<int>]", or "[*]".
func ParsePathExpression(raw string) (PathExpr, error) {
	expr := raw
	var hasDefault bool
	var defaultLiteral string

	if idx := strings.Index(expr, " ?? "); idx >= 0 {
		hasDefault = true
		defaultLiteral = strings.TrimSpace(expr[idx+4:])
		expr = strings.TrimSpace(expr[:idx])
	}

	if !strings.HasPrefix(expr, "$.") {
		return PathExpr{}, fmt.Errorf("path expression %q must start with \"$.\"", raw)
	}
	body := strings.TrimPrefix(expr, "$.")

	segments, err := parseSegments(body)
	if err != nil {
		return PathExpr{}, fmt.Errorf("path expression %q: %w", raw, err)
	}

	pe := PathExpr{Segments: segments, Raw: raw}
	if hasDefault {
		pe.HasDefault = true
		pe.DefaultValue = parseDefaultLiteral(defaultLiteral)
	}
	return pe, nil
}

// parseDefaultLiteral parses the literal as JSON when well-formed,
// otherwise treats it as a raw string.
func parseDefaultLiteral(literal string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(literal), &v); err == nil {
		return v
	}
	return literal
}

func parseSegments(body string) ([]PathSegment, error) {
	if body == "" {
		return nil, fmt.Errorf("empty path body")
	}
	var segments []PathSegment
	for _, part := range splitSegments(body) {
		if part == "" {
			return nil, fmt.Errorf("empty segment")
		}
		if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
			inner := part[1 : len(part)-1]
			if inner == "*" {
				segments = append(segments, PathSegment{Wildcard: true, IsIndex: true})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("invalid index segment %q", part)
			}
			segments = append(segments, PathSegment{Index: n, IsIndex: true})
			continue
		}
		segments = append(segments, PathSegment{Field: part})
	}
	return segments, nil
}

// splitSegments splits "a.b[0].c[*]" into ["a", "b", "[0]", "c", "[*]"].
func splitSegments(body string) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch ch {
		case '.':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		case '[':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			j := strings.IndexByte(body[i:], ']')
			if j < 0 {
				out = append(out, body[i:])
				i = len(body)
				break
			}
			out = append(out, body[i:i+j+1])
			i += j
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
