package obfuscation

import "fmt"

// Content kinds reported by ParseError.
const (
	KindMarkup = "markup"
	KindScript = "script"
	KindStyle  = "style"
)

// ParseError reports a document the transformers could not understand. The
// transform that hit it produced no output.
type ParseError struct {
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("obfuscation: parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError wraps err as a ParseError of kind.
func NewParseError(kind string, err error) error {
	return &ParseError{Kind: kind, Err: err}
}
