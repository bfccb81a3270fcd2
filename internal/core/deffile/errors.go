package deffile

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrUnsupportedDirective = errors.New("unsupported build directive")
	ErrMissingFrom          = errors.New("build instructions declare no FROM image")
)

// DirectiveError reports a build instruction the definition-file format
// cannot represent, with enough context to point at the source line.
type DirectiveError struct {
	Directive string
	Line      int
	Reason    string
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Directive, e.Reason)
}

func (e *DirectiveError) Unwrap() error {
	return ErrUnsupportedDirective
}

// NewDirectiveError creates a DirectiveError.
func NewDirectiveError(directive string, line int, reason string) *DirectiveError {
	return &DirectiveError{
		Directive: directive,
		Line:      line,
		Reason:    reason,
	}
}
