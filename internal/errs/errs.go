// Package errs defines the error taxonomy shared across the connector.
package errs

import "fmt"

// Kind classifies an error the way the engine and the connector both
// understand it; it travels on the wire in Error(replyToId, kind, msg)
// fragments and is attached to ReplyHandle terminal states.
type Kind int

const (
	// KindUnknownSession: engine referenced a session this library does not own.
	KindUnknownSession Kind = iota
	// KindUnableToConnect: connect deadline exceeded after all reconnect attempts.
	KindUnableToConnect
	// KindNotLeader: control signal, never surfaced as an error to the user.
	KindNotLeader
	// KindDuplicateSession: attempt to own a session already owned elsewhere.
	KindDuplicateSession
	// KindTimedOut: a ReplyHandle's deadline passed before resolution.
	KindTimedOut
	// KindInvalidConfiguration: programmer/operator error detected at startup.
	KindInvalidConfiguration
	// KindIndexLapped: internal to the replay index reader, recovered transparently.
	KindIndexLapped
	// KindClosed: the library has been closed; further operations fail fast.
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindUnknownSession:
		return "UNKNOWN_SESSION"
	case KindUnableToConnect:
		return "UNABLE_TO_CONNECT"
	case KindNotLeader:
		return "NOT_LEADER"
	case KindDuplicateSession:
		return "DUPLICATE_SESSION"
	case KindTimedOut:
		return "TIMED_OUT"
	case KindInvalidConfiguration:
		return "INVALID_CONFIGURATION"
	case KindIndexLapped:
		return "INDEX_LAPPED"
	case KindClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Error is a taxonomy-tagged error. LibraryId is 0 when the error is not
// scoped to a specific library instance (e.g. local validation failures).
type Error struct {
	Kind      Kind
	LibraryId int32
	Message   string
	Cause     error
}

func New(kind Kind, libraryId int32, msg string) *Error {
	return &Error{Kind: kind, LibraryId: libraryId, Message: msg}
}

func Wrap(kind Kind, libraryId int32, msg string, cause error) *Error {
	return &Error{Kind: kind, LibraryId: libraryId, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// AsKind reports the taxonomy Kind of err when err is an *Error itself; it
// does not unwrap a chain, so an *Error wrapped by another error yields false.
func AsKind(err error) (Kind, bool) {
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return 0, false
}
