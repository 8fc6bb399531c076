package semantic

import (
	"fmt"

	"cheshire/internal/ast"
)

// ---------------------------------------------------------------------------
// Diagnostic severity
// ---------------------------------------------------------------------------

// Severity indicates whether a diagnostic is an error or a warning.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// Category classifies what kind of rule a diagnostic reports.
type Category int

const (
	CategoryType     Category = iota // operand, arity, override, condition violations
	CategoryRegistry                 // unknown type names, redefinitions
	CategoryInternal                 // broken invariants of the checker itself
)

func (c Category) String() string {
	switch c {
	case CategoryType:
		return "type"
	case CategoryRegistry:
		return "registry"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Diagnostic
// ---------------------------------------------------------------------------

// Diagnostic represents a single message produced by the checker.
type Diagnostic struct {
	Message  string
	Pos      ast.Position
	Severity Severity
	Category Category
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("line %d, col %d: %s: %s", d.Pos.Line, d.Pos.Column, d.Severity, d.Message)
}

// HasErrors returns true if any diagnostic in the slice is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Failure mode
// ---------------------------------------------------------------------------

// Mode selects what happens after the first error.
type Mode int

const (
	// FailFast stops checking at the first error.
	FailFast Mode = iota
	// Accumulate abandons the failing top-level definition and carries on
	// with the next one.
	Accumulate
)

func (m Mode) String() string {
	if m == Accumulate {
		return "accumulate"
	}
	return "fail-fast"
}
