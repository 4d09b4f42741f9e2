package verification_test

import (
	"context"
	"errors"
	"testing"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
	"devtrust/internal/verification"
)

func genKey(t *testing.T) domain.Ed25519Public {
	t.Helper()
	_, pub, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	return pub
}

type qrFixture struct {
	a, b           *peer
	aReq, bReq     *verification.Request
	aTrust, bTrust *memTrust
	aKey, bKey     domain.Ed25519Public
}

func newQRFixture(t *testing.T) *qrFixture {
	t.Helper()
	f := &qrFixture{aTrust: &memTrust{}, bTrust: &memTrust{}, aKey: genKey(t), bKey: genKey(t)}
	f.a, f.b, f.aReq, f.bReq, _ = readyPair(t,
		verification.DefaultMethods(f.aTrust, f.aKey),
		verification.DefaultMethods(f.bTrust, f.bKey),
	)
	return f
}

// scan has bob read the code alice shows, with alice claiming second is
// bob's key.
func (f *qrFixture) scan(t *testing.T, second domain.Ed25519Public) (*verification.Reciprocate, error) {
	t.Helper()
	q, err := f.aReq.GenerateQRCode(verification.ModeVerifyOtherUser, f.aKey, second)
	if err != nil {
		t.Fatalf("GenerateQRCode: %v", err)
	}
	raw, err := q.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	scanned, err := verification.ParseQRCode(raw)
	if err != nil {
		t.Fatalf("ParseQRCode: %v", err)
	}
	v, err := f.bReq.BeginKeyVerification(verification.MethodReciprocate, "")
	if err != nil {
		t.Fatalf("BeginKeyVerification: %v", err)
	}
	rv := v.(*verification.Reciprocate)
	rv.SetScannedCode(scanned)
	return rv, rv.Verify(context.Background())
}

func TestReciprocate_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newQRFixture(t)

	if _, err := f.scan(t, f.bKey); err != nil {
		t.Fatalf("scanner Verify: %v", err)
	}
	if f.bReq.Phase() != verification.PhaseDone {
		t.Fatalf("scanner phase = %v, want done", f.bReq.Phase())
	}
	ok, err := f.bTrust.IsVerified(alice, f.aKey)
	if err != nil || !ok {
		t.Fatalf("scanner did not trust the shown key: %v", err)
	}

	msgs := f.b.net.take()
	start := one(t, msgs, verification.EventStart, "ALICEDEV")
	if start.Content["method"] != verification.MethodReciprocate || start.Content["secret"] == "" {
		t.Fatalf("start content = %v", start.Content)
	}
	deliver(t, f.aReq, bob, start, true)
	deliver(t, f.aReq, bob, one(t, msgs, verification.EventDone, "ALICEDEV"), true)
	if f.aReq.Phase() != verification.PhaseStarted {
		t.Fatalf("shower phase = %v, want started", f.aReq.Phase())
	}

	rv, ok := f.aReq.Verifier().(*verification.Reciprocate)
	if !ok {
		t.Fatalf("shower verifier = %T", f.aReq.Verifier())
	}
	rv.Confirm()
	if err := rv.Verify(ctx); err != nil {
		t.Fatalf("shower Verify: %v", err)
	}
	if f.aReq.Phase() != verification.PhaseDone {
		t.Fatalf("shower phase = %v, want done", f.aReq.Phase())
	}
	keys, err := f.aTrust.TrustedKeys(bob)
	if err != nil || len(keys) != 1 {
		t.Fatalf("TrustedKeys: %v %v", keys, err)
	}
	if keys[0].Key != f.bKey || keys[0].DeviceID != "BOBDEV1" || keys[0].Method != verification.MethodReciprocate {
		t.Fatalf("trusted key = %+v", keys[0])
	}
}

func TestReciprocate_ScannerRejectsWrongKey(t *testing.T) {
	f := newQRFixture(t)
	_, err := f.scan(t, genKey(t))
	if !errors.Is(err, verification.ErrKeyMismatch) {
		t.Fatalf("Verify: got %v, want ErrKeyMismatch", err)
	}
	if !errors.Is(f.bReq.Cancellation(), verification.ErrKeyMismatch) {
		t.Fatalf("cancellation = %v", f.bReq.Cancellation())
	}
	c := one(t, f.b.net.take(), verification.EventCancel, "ALICEDEV")
	if c.Content["code"] != verification.CodeKeyMismatch {
		t.Fatalf("cancel code = %v", c.Content["code"])
	}
	if keys, _ := f.bTrust.TrustedKeys(alice); len(keys) != 0 {
		t.Fatal("key trusted after mismatch")
	}
}

func TestReciprocate_ShowerRejectsWrongSecret(t *testing.T) {
	f := newQRFixture(t)
	if _, err := f.aReq.GenerateQRCode(verification.ModeVerifyOtherUser, f.aKey, f.bKey); err != nil {
		t.Fatalf("GenerateQRCode: %v", err)
	}
	deliver(t, f.aReq, bob, sent{Type: verification.EventStart, Content: verification.Content{
		"transaction_id": f.aReq.Channel().TransactionID(),
		"from_device":    "BOBDEV1",
		"method":         verification.MethodReciprocate,
		"secret":         crypto.B64([]byte("not the secret!!")),
	}}, true)

	err := f.aReq.Verifier().Verify(context.Background())
	if !errors.Is(err, verification.ErrKeyMismatch) {
		t.Fatalf("Verify: got %v, want ErrKeyMismatch", err)
	}
	if f.aReq.Outcome() != verification.OutcomeCancelledByUs {
		t.Fatalf("outcome = %v", f.aReq.Outcome())
	}
}

func TestIllegalMethod_CancelsRequest(t *testing.T) {
	f := newQRFixture(t)
	v, err := f.aReq.BeginKeyVerification(verification.MethodQRShow, "")
	if err != nil {
		t.Fatalf("BeginKeyVerification: %v", err)
	}
	err = v.Verify(context.Background())
	if !errors.Is(err, verification.ErrUnknownMethod) {
		t.Fatalf("Verify: got %v, want unknown method", err)
	}
	if f.aReq.Phase() != verification.PhaseCancelled {
		t.Fatalf("phase = %v, want cancelled", f.aReq.Phase())
	}
	c := one(t, f.a.net.take(), verification.EventCancel, "BOBDEV1")
	if c.Content["code"] != verification.CodeUnknownMethod {
		t.Fatalf("cancel code = %v", c.Content["code"])
	}
	select {
	case <-v.Done():
	default:
		t.Fatal("illegal verifier not done")
	}
}
