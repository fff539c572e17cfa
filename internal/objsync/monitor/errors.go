package monitor

import "strconv"

// Kind classifies monitor errors.
type Kind int

const (
	// IllegalMonitorState means the calling thread does not own the lock.
	IllegalMonitorState Kind = iota + 1
	// IllegalArgument means a malformed wait timeout.
	IllegalArgument
	// Interrupted means a wait or sleep ended because of an interrupt.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case IllegalMonitorState:
		return "illegal monitor state"
	case IllegalArgument:
		return "illegal argument"
	case Interrupted:
		return "interrupted"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Error is a reportable monitor error.
//
// Match a class of errors with errors.Is against the sentinels:
//
//	if errors.Is(err, monitor.ErrInterrupted) { ... }
type Error struct {
	Kind Kind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is reports whether target is an *Error of the same Kind. A target with
// a message must also match the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is.
var (
	ErrIllegalMonitorState = &Error{Kind: IllegalMonitorState}
	ErrIllegalArgument     = &Error{Kind: IllegalArgument}
	ErrInterrupted         = &Error{Kind: Interrupted}
)

// NewError returns an *Error of the given kind.
func NewError(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}
