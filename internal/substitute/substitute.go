// Package substitute resolves "${...}" references inside a contract's
// request_template against the four binding scopes and applies a
// response mapping's parsed path expressions to decode a handler's raw
// response into the fields an operation declares.
//
// Grounded on cellorg's internal/envelope payload handling for the
// single-pass-no-re-expansion contract, and on its typed-error style for
// UnresolvedReferenceError / PathNotFoundError.
package substitute

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onex/noderuntime/internal/contract"
)

// Bindings holds the four scopes a template reference may resolve against.
// CorrelationID is not a template scope; it is carried alongside the
// scopes so handler request builders (e.g. broker-produce's key default)
// can reach it without a reference lookup.
type Bindings struct {
	Env           map[string]string
	Input         map[string]interface{}
	Context       map[string]interface{}
	Config        map[string]interface{}
	CorrelationID string
}

// UnresolvedReferenceError reports a "${...}" reference with no default
// that could not be resolved against any bound scope.
type UnresolvedReferenceError struct {
	Reference string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("substitute: unresolved reference %q", e.Reference)
}

var tokenPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// RenderString performs single-pass substitution of every "${...}" token in
// s. A resolved value is never re-scanned for further tokens (no
// re-expansion). When the whole string is exactly one token
// ("${input.items}" with nothing else), the resolved value's native type is
// returned so non-string payloads (objects, arrays, numbers) survive into a
// REST body or Cypher/SQL parameter untouched; otherwise the resolved value
// is stringified and spliced into the surrounding text.
func RenderString(s string, b Bindings) (interface{}, error) {
	matches := tokenPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref, def, hasDefault := splitDefault(s[matches[0][2]:matches[0][3]])
		return resolveRef(ref, def, hasDefault, b)
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		out.WriteString(s[last:start])
		ref, def, hasDefault := splitDefault(s[m[2]:m[3]])
		v, err := resolveRef(ref, def, hasDefault, b)
		if err != nil {
			return nil, err
		}
		out.WriteString(stringify(v))
		last = end
	}
	out.WriteString(s[last:])
	return out.String(), nil
}

// RenderTree walks an arbitrary nested structure (as produced by a REST
// body template) and renders every string leaf with RenderString, leaving
// maps/slices/scalars of other types as-is.
func RenderTree(v interface{}, b Bindings) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return RenderString(t, b)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			rv, err := RenderTree(val, b)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			rv, err := RenderTree(val, b)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderStringMap renders every value of a map[string]string template
// (headers, query params), returning a plain string map.
func RenderStringMap(m map[string]string, b Bindings) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		rv, err := RenderString(v, b)
		if err != nil {
			return nil, err
		}
		out[k] = stringify(rv)
	}
	return out, nil
}

func splitDefault(raw string) (ref, def string, hasDefault bool) {
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		return raw[:idx], raw[idx+1:], true
	}
	return raw, "", false
}

func resolveRef(ref, defaultLiteral string, hasDefault bool, b Bindings) (interface{}, error) {
	prefix, rest, found := strings.Cut(ref, ".")
	if !found {
		return fallback(ref, defaultLiteral, hasDefault)
	}

	var scope map[string]interface{}
	switch prefix {
	case "env":
		v, ok := b.Env[rest]
		if !ok {
			return fallback(ref, defaultLiteral, hasDefault)
		}
		return v, nil
	case "input":
		scope = b.Input
	case "context":
		scope = b.Context
	case "config":
		scope = b.Config
	default:
		return fallback(ref, defaultLiteral, hasDefault)
	}

	v, ok := lookupDotted(scope, rest)
	if !ok {
		return fallback(ref, defaultLiteral, hasDefault)
	}
	return v, nil
}

func fallback(ref, defaultLiteral string, hasDefault bool) (interface{}, error) {
	if hasDefault {
		return parseDefaultLiteral(defaultLiteral), nil
	}
	return nil, &UnresolvedReferenceError{Reference: ref}
}

// parseDefaultLiteral parses the literal as JSON when well-formed,
// otherwise treats it as a raw string, matching
// contract.parseDefaultLiteral's handling of response-mapping defaults.
func parseDefaultLiteral(literal string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(literal), &v); err == nil {
		return v
	}
	return literal
}

func lookupDotted(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, p := range parts {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := asMap[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// PathNotFoundError reports that a parsed path expression had no matching
// default and could not be applied to a decoded response body.
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("substitute: path %q not found in response and has no default", e.Path)
}

// ApplyResponseMapping applies every field's parsed path expression against
// a decoded response body, producing the flat result map an Operation
// promises its caller.
func ApplyResponseMapping(mapping map[string]contract.PathExpr, body interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(mapping))
	for field, expr := range mapping {
		v, ok := applyPath(body, expr.Segments)
		if !ok {
			if expr.HasDefault {
				out[field] = expr.DefaultValue
				continue
			}
			return nil, &PathNotFoundError{Path: expr.Raw}
		}
		out[field] = v
	}
	return out, nil
}

func applyPath(v interface{}, segments []contract.PathSegment) (interface{}, bool) {
	cur := v
	for i, seg := range segments {
		switch {
		case seg.Wildcard:
			arr, ok := cur.([]interface{})
			if !ok {
				return nil, false
			}
			rest := segments[i+1:]
			if len(rest) == 0 {
				return arr, true
			}
			out := make([]interface{}, 0, len(arr))
			for _, elem := range arr {
				rv, ok := applyPath(elem, rest)
				if !ok {
					return nil, false
				}
				out = append(out, rv)
			}
			return out, true
		case seg.IsIndex:
			arr, ok := cur.([]interface{})
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.Index]
		default:
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, false
			}
			val, ok := m[seg.Field]
			if !ok {
				return nil, false
			}
			cur = val
		}
	}
	return cur, true
}
