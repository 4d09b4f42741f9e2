package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
)

var errNoScannedCode = errors.New("verification: no scanned QR code")

// Reciprocate completes a QR code verification.
//
// The scanning device sends start with the secret read from the code, marks
// the code's first key as verified and finishes. The showing device checks
// the secret, waits for the user to Confirm that the scanner reported
// success, marks the scanner's key as verified and finishes.
type Reciprocate struct {
	host  Host
	start *Event
	trust domain.TrustStore
	own   domain.Ed25519Public

	mu          sync.Mutex
	scanned     *QRCodeData
	confirm     chan struct{}
	confirmOnce sync.Once
	done        chan struct{}
	doneOnce    sync.Once
	err         error
}

// ReciprocateFactory returns the factory for MethodReciprocate. own is our
// signing key, which a scanned code must carry as its second key.
func ReciprocateFactory(trust domain.TrustStore, own domain.Ed25519Public) Factory {
	return func(host Host, start *Event) Verifier {
		return &Reciprocate{
			host:    host,
			start:   start,
			trust:   trust,
			own:     own,
			confirm: make(chan struct{}),
			done:    make(chan struct{}),
		}
	}
}

func (v *Reciprocate) Method() string { return MethodReciprocate }

// SetScannedCode gives the scanning side the code it read.
func (v *Reciprocate) SetScannedCode(q *QRCodeData) {
	v.mu.Lock()
	v.scanned = q
	v.mu.Unlock()
}

// Confirm tells the showing side that the other device reported success.
func (v *Reciprocate) Confirm() { v.confirmOnce.Do(func() { close(v.confirm) }) }

// Err is the reason the verifier stopped, if it did not succeed.
func (v *Reciprocate) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

func (v *Reciprocate) Verify(ctx context.Context) error {
	var err error
	if v.start == nil {
		err = v.verifyAsScanner(ctx)
	} else {
		err = v.verifyAsShower(ctx)
	}
	v.stop(err)
	return err
}

func (v *Reciprocate) verifyAsScanner(ctx context.Context) error {
	v.mu.Lock()
	q := v.scanned
	v.mu.Unlock()
	if q == nil {
		return errNoScannedCode
	}
	if q.TransactionID != v.host.TransactionID() {
		v.host.Fail(ctx, ErrUnknownTransaction)
		return ErrUnknownTransaction
	}
	if subtle.ConstantTimeCompare(q.SecondKey[:], v.own[:]) != 1 {
		v.host.Fail(ctx, ErrKeyMismatch)
		return ErrKeyMismatch
	}
	if err := v.host.Send(ctx, EventStart, Content{
		keyMethod: MethodReciprocate,
		keySecret: q.EncodedSecret(),
	}); err != nil {
		return err
	}
	if err := v.markVerified(q.FirstKey); err != nil {
		return err
	}
	return v.host.Finish(ctx)
}

func (v *Reciprocate) verifyAsShower(ctx context.Context) error {
	q := v.host.ShownQRCode()
	if q == nil {
		v.host.Fail(ctx, ErrUnexpectedMessage)
		return ErrUnexpectedMessage
	}
	secret, err := crypto.UnB64(v.start.Content.String(keySecret))
	if err != nil || subtle.ConstantTimeCompare(secret, q.Secret) != 1 {
		v.host.Fail(ctx, ErrKeyMismatch)
		return ErrKeyMismatch
	}

	select {
	case <-v.confirm:
	case <-v.done:
		return v.Err()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := v.markVerified(q.SecondKey); err != nil {
		return err
	}
	return v.host.Finish(ctx)
}

func (v *Reciprocate) markVerified(key domain.Ed25519Public) error {
	if v.trust == nil {
		return nil
	}
	return v.trust.MarkVerified(domain.TrustedKey{
		UserID:     v.host.OtherUser(),
		DeviceID:   v.host.OtherDevice(),
		Key:        key,
		Method:     MethodReciprocate,
		VerifiedAt: time.Now().UTC(),
	})
}

func (v *Reciprocate) HandleEvent(context.Context, *Event) error { return nil }

func (v *Reciprocate) Cancel(err error) { v.stop(err) }

func (v *Reciprocate) Done() <-chan struct{} { return v.done }

func (v *Reciprocate) stop(err error) {
	v.doneOnce.Do(func() {
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		close(v.done)
	})
}
