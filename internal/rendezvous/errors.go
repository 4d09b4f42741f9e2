package rendezvous

import "errors"

// ErrKind categorises rendezvous errors so callers can tell "retry" from
// "start over".
type ErrKind uint8

const (
	KindInvalidCode ErrKind = iota + 1
	KindUnsupportedTransport
	KindUnsupportedAlgorithm
	KindInvalidIntent
	// KindNoResponse means the relay had nothing for us yet. It is the only
	// retriable kind.
	KindNoResponse
	KindInvalidResponse
	KindAlreadyConnected
	KindNotConnected
	KindDecryptFailed
	KindCodeAlreadyGenerated
	KindClosed
	KindCancelled
)

var kindNames = map[ErrKind]string{
	KindInvalidCode:          "invalid code",
	KindUnsupportedTransport: "unsupported transport",
	KindUnsupportedAlgorithm: "unsupported algorithm",
	KindInvalidIntent:        "invalid intent",
	KindNoResponse:           "no response from other device",
	KindInvalidResponse:      "invalid response from other device",
	KindAlreadyConnected:     "channel already connected",
	KindNotConnected:         "channel not connected",
	KindDecryptFailed:        "decryption failed",
	KindCodeAlreadyGenerated: "code already generated",
	KindClosed:               "channel closed",
	KindCancelled:            "rendezvous cancelled",
}

func (k ErrKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is a kind-tagged rendezvous failure.
type Error struct {
	Kind  ErrKind
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "rendezvous: " + e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Inner != nil {
		msg += ": " + e.Inner.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Inner }

// Retriable reports whether the failed operation may simply be repeated.
func (e *Error) Retriable() bool { return e.Kind == KindNoResponse }

func newError(kind ErrKind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func wrapError(kind ErrKind, msg string, inner error) *Error {
	return &Error{Kind: kind, Msg: msg, Inner: inner}
}

// IsKind reports whether err is a rendezvous Error of kind.
func IsKind(err error, kind ErrKind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}
