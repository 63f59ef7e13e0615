package executor

import (
	"fmt"

	"github.com/onex/noderuntime/internal/contract"
)

// validateInput enforces an operation's declared required fields and
// primitive types against the caller-supplied params. A missing
// required field or a type mismatch is a permanent CONTRACT_MISMATCH,
// never retried.
func validateInput(iv contract.InputValidation, params map[string]interface{}) error {
	for _, field := range iv.Required {
		if _, ok := params[field]; !ok {
			return fmt.Errorf("missing required field %q", field)
		}
	}
	for field, wantType := range iv.Types {
		v, ok := params[field]
		if !ok {
			continue
		}
		if !matchesType(v, wantType) {
			return fmt.Errorf("field %q: expected type %s, got %T", field, wantType, v)
		}
	}
	return nil
}

func matchesType(v interface{}, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]interface{})
		return ok
	case "array":
		_, ok := v.([]interface{})
		return ok
	default:
		return true
	}
}
