package runtime

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error by the taxonomy the engine is specified
// against; it is deliberately small and closed, matching the kinds a
// correct implementation can actually produce.
type Kind int

const (
	// KindUnknown covers a terminal-state mismatch; should not occur
	// under correct use.
	KindUnknown Kind = iota
	// KindNextNodeNull means the middleware chain was exhausted
	// inconsistently (middle_index beyond chain length) — a fatal
	// invariant violation, never a user-facing condition.
	KindNextNodeNull
	// KindServiceNotFound means the service loader had no handler for
	// the requested name at dispatch time.
	KindServiceNotFound
	// KindNodeEntityNotFound means the Plan referenced a node name that
	// was never declared to it.
	KindNodeEntityNotFound
	// KindEndCallbackError means a post-hook failed; the run's computed
	// result is discarded in favor of this error.
	KindEndCallbackError
	// KindWrapped carries any other structured error returned by a
	// service.
	KindWrapped
	// KindDeadlockedPlan means every live branch of a Graph plan
	// quiesced to Wait without any branch ever reaching End.
	KindDeadlockedPlan
	// KindVarAlreadyWritten means a node attempted to write vars[name]
	// a second time in the same run.
	KindVarAlreadyWritten
	// KindUnsupportedConflictPolicy means an Option requested a
	// ConflictPolicy the engine does not implement.
	KindUnsupportedConflictPolicy
	// KindNodeTimeout means a node exceeded its configured NodePolicy
	// timeout (TimeoutMiddleware).
	KindNodeTimeout
	// KindInvalidRetryPolicy means a RetryPolicy failed Validate.
	KindInvalidRetryPolicy
)

func (k Kind) String() string {
	switch k {
	case KindNextNodeNull:
		return "NextNodeNull"
	case KindServiceNotFound:
		return "ServiceNotFound"
	case KindNodeEntityNotFound:
		return "NodeEntityNotFound"
	case KindEndCallbackError:
		return "EndCallbackError"
	case KindWrapped:
		return "Wrapped"
	case KindDeadlockedPlan:
		return "DeadlockedPlan"
	case KindVarAlreadyWritten:
		return "VarAlreadyWritten"
	case KindUnsupportedConflictPolicy:
		return "UnsupportedConflictPolicy"
	case KindNodeTimeout:
		return "NodeTimeout"
	case KindInvalidRetryPolicy:
		return "InvalidRetryPolicy"
	default:
		return "Unknown"
	}
}

// Error is the engine's structured error type. Name is the node or
// service name the error concerns, when applicable.
type Error struct {
	Kind  Kind
	Name  string
	Cause error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("runtime[%s]: %s: %v", e.Kind, e.Name, e.Cause)
	}
	return fmt.Sprintf("runtime[%s]: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so callers can do errors.Is(err, &Error{Kind: KindServiceNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, name string, cause error) *Error {
	return &Error{Kind: kind, Name: name, Cause: cause}
}

// Sentinels for errors.Is matching without constructing a full *Error.
var (
	ErrNextNodeNull               = &Error{Kind: KindNextNodeNull}
	ErrServiceNotFound            = &Error{Kind: KindServiceNotFound}
	ErrNodeEntityNotFound         = &Error{Kind: KindNodeEntityNotFound}
	ErrEndCallbackError           = &Error{Kind: KindEndCallbackError}
	ErrDeadlockedPlan             = &Error{Kind: KindDeadlockedPlan}
	ErrVarAlreadyWritten          = &Error{Kind: KindVarAlreadyWritten}
	ErrUnsupportedConflictPolicy  = &Error{Kind: KindUnsupportedConflictPolicy}
	ErrNodeTimeout                = &Error{Kind: KindNodeTimeout}
	ErrInvalidRetryPolicy         = &Error{Kind: KindInvalidRetryPolicy}
	ErrPlanNotChecked             = errors.New("runtime: plan has not passed check()")
	ErrMaxConcurrentNodesNonPos   = errors.New("runtime: MaxConcurrentNodes must be > 0")
)
