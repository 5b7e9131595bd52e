package analytics

import "fmt"

// RoutingError indicates required analytics inputs are missing: unknown
// document, no default sheet, or no column catalog for (document, sheet).
type RoutingError struct {
	Msg string
}

func (e *RoutingError) Error() string { return e.Msg }

// PlanValidationError indicates a structural or type-compatibility
// violation in a plan.
type PlanValidationError struct {
	Msg string
}

func (e *PlanValidationError) Error() string { return e.Msg }

// CompilationError indicates the compiler hit an unknown column, a
// malformed operator value, or a missing aggregate target.
type CompilationError struct {
	Msg string
}

func (e *CompilationError) Error() string { return e.Msg }

// ExecutionError wraps a relational-store failure during a compiled query.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("analytics execution failed: %v", e.Err) }
func (e *ExecutionError) Unwrap() error { return e.Err }

func routingErrorf(format string, args ...interface{}) *RoutingError {
	return &RoutingError{Msg: fmt.Sprintf(format, args...)}
}

func validationErrorf(format string, args ...interface{}) *PlanValidationError {
	return &PlanValidationError{Msg: fmt.Sprintf(format, args...)}
}

func compileErrorf(format string, args ...interface{}) *CompilationError {
	return &CompilationError{Msg: fmt.Sprintf(format, args...)}
}
