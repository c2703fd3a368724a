// errs.go - Fatal simulator-internal errors

package river

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind enumerates the fatal, simulator-internal failure classes.
// These are distinct from the architectural faults a simulated
// program can observe (LoadFault, StoreFault, IllegalInstruction...)
// which are carried as plain data on response structs, never as a Go
// error - see icache.go/dcache.go/csr.go.
type ErrKind int

const (
	ErrElaboration ErrKind = iota
	ErrCombinationalLoop
	ErrUnmappedDMI
	ErrIllegalBurst
	ErrConvergence
)

func (k ErrKind) String() string {
	switch k {
	case ErrElaboration:
		return "elaboration"
	case ErrCombinationalLoop:
		return "combinational loop"
	case ErrUnmappedDMI:
		return "unmapped DMI address"
	case ErrIllegalBurst:
		return "illegal AXI burst"
	case ErrConvergence:
		return "convergence failure"
	default:
		return "unknown"
	}
}

// SimError is a fatal, run-terminating error. It is always wrapped
// with github.com/pkg/errors so the top-level runner can print a
// stack trace pointing at the elaboration or tick that failed.
type SimError struct {
	Kind ErrKind
	Msg  string
}

func (e *SimError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Fatal wraps a SimError with a stack trace captured at the call site.
func Fatal(kind ErrKind, format string, args ...interface{}) error {
	return errors.WithStack(&SimError{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

// AsSimError unwraps err looking for a *SimError, for tests and for
// the cmd/ hosts deciding an exit code.
func AsSimError(err error) (*SimError, bool) {
	var se *SimError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// WrapFatal attaches simulator context to an error from a lower layer
// (e.g. a decode-table build failure surfaced during elaboration).
func WrapFatal(err error, kind ErrKind, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "%s: %s", kind, context)
}
