package ledgererr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failed ledger operation.
type Kind string

const (
	InvalidTransition  Kind = "InvalidTransition"
	GameNotJoinable    Kind = "GameNotJoinable"
	GameNotActive      Kind = "GameNotActive"
	GameNotCancellable Kind = "GameNotCancellable"
	SelfJoin           Kind = "SelfJoin"
	NotCreator         Kind = "NotCreator"
	NotAPlayer         Kind = "NotAPlayer"
	InvalidWinner      Kind = "InvalidWinner"
	InsufficientFunds  Kind = "InsufficientFunds"
	TimeoutNotReached  Kind = "TimeoutNotReached"
	InvalidSwap        Kind = "InvalidSwap"
	InvalidRequest     Kind = "InvalidRequest"
	NotFound           Kind = "NotFound"
	Contention         Kind = "Contention"
	Unavailable        Kind = "Unavailable"
)

// Error is the typed error returned by every ledger operation.
type Error struct {
	Kind    Kind
	Message string
	// Reasons lists every violated rule when more than one applies (InvalidSwap).
	Reasons []string
	// Remaining is set for TimeoutNotReached.
	Remaining time.Duration
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Reasons) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Reasons, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels like ErrContention work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// RemainingSeconds rounds the remaining timeout up to whole seconds.
func (e *Error) RemainingSeconds() int64 {
	if e.Remaining <= 0 {
		return 0
	}
	return int64((e.Remaining + time.Second - 1) / time.Second)
}

// Sentinels for errors.Is.
var (
	ErrContention  = &Error{Kind: Contention}
	ErrUnavailable = &Error{Kind: Unavailable}
	ErrNotFound    = &Error{Kind: NotFound}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
