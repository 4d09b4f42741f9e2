package verification

import (
	"errors"
	"fmt"
)

// Cancellation codes sent in cancel events.
const (
	CodeUser               = "m.user"
	CodeTimeout            = "m.timeout"
	CodeUnknownTransaction = "m.unknown_transaction"
	CodeUnknownMethod      = "m.unknown_method"
	CodeUnexpectedMessage  = "m.unexpected_message"
	CodeKeyMismatch        = "m.key_mismatch"
	CodeUserMismatch       = "m.user_mismatch"
	CodeInvalidMessage     = "m.invalid_message"
	CodeAccepted           = "m.accepted"
)

// Cancellation is the typed reason a request was cancelled. Two
// cancellations match under errors.Is when their codes are equal.
type Cancellation struct {
	Code   string
	Reason string
}

func (c *Cancellation) Error() string {
	if c.Reason == "" {
		return "verification cancelled: " + c.Code
	}
	return fmt.Sprintf("verification cancelled: %s: %s", c.Code, c.Reason)
}

// Is reports whether target is a Cancellation with the same code.
func (c *Cancellation) Is(target error) bool {
	t, ok := target.(*Cancellation)
	return ok && t.Code == c.Code
}

func (c *Cancellation) content() Content {
	return Content{keyCode: c.Code, keyReason: c.Reason}
}

func cancellationFromContent(content Content) *Cancellation {
	code := content.String(keyCode)
	if code == "" {
		code = CodeUser
	}
	return &Cancellation{Code: code, Reason: content.String(keyReason)}
}

var (
	ErrUserCancelled      = &Cancellation{Code: CodeUser, Reason: "cancelled by user"}
	ErrTimeout            = &Cancellation{Code: CodeTimeout, Reason: "verification request timed out"}
	ErrUnknownTransaction = &Cancellation{Code: CodeUnknownTransaction, Reason: "unknown transaction"}
	ErrUnknownMethod      = &Cancellation{Code: CodeUnknownMethod, Reason: "unknown verification method"}
	ErrUnexpectedMessage  = &Cancellation{Code: CodeUnexpectedMessage, Reason: "unexpected message"}
	ErrKeyMismatch        = &Cancellation{Code: CodeKeyMismatch, Reason: "key mismatch"}
	ErrUserMismatch       = &Cancellation{Code: CodeUserMismatch, Reason: "user mismatch"}
	ErrInvalidMessage     = &Cancellation{Code: CodeInvalidMessage, Reason: "invalid message"}
	ErrAccepted           = &Cancellation{Code: CodeAccepted, Reason: "verification request accepted by another device"}
)

// Errors returned by request operations. None of them change request state.
var (
	ErrInvalidPhase    = errors.New("verification: operation not allowed in current phase")
	ErrObserveOnly     = errors.New("verification: request is observe-only")
	ErrMethodNotCommon = errors.New("verification: method not supported by both parties")
	ErrVerifierExists  = errors.New("verification: verifier already created")
	ErrWrongDevice     = errors.New("verification: request is bound to a different device")
	ErrNoTransaction   = errors.New("verification: transaction id not established")
	ErrBusy            = errors.New("verification: another send is in progress")
	ErrNoQRCode        = errors.New("verification: no QR code for this request")

	// errStartSuperseded aborts a local verifier whose start lost the race.
	errStartSuperseded = errors.New("verification: start superseded by the other party")
)
