package contract

import "fmt"

// SchemaError reports a missing or wrongly-typed field found while
// validating a raw contract document.
type SchemaError struct {
	FieldPath string
	Message   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("contract schema error at %s: %s", e.FieldPath, e.Message)
}

// FingerprintMismatchError reports that a contract's declared fingerprint
// does not match the one recomputed from its canonical bytes.
type FingerprintMismatchError struct {
	NodeID     string
	Declared   string
	Recomputed string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("contract %s: fingerprint mismatch: declared=%s recomputed=%s",
		e.NodeID, e.Declared, e.Recomputed)
}
