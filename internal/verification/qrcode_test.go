package verification_test

import (
	"bytes"
	"errors"
	"testing"

	"devtrust/internal/domain"
	"devtrust/internal/verification"
)

func TestQRCode_EncodeParse(t *testing.T) {
	q := &verification.QRCodeData{
		Mode:          verification.ModeVerifySelfTrusted,
		TransactionID: "txn-1234",
		FirstKey:      domain.Ed25519Public{1, 2, 3},
		SecondKey:     domain.Ed25519Public{4, 5, 6},
		Secret:        bytes.Repeat([]byte{0xaa}, 16),
	}
	raw, err := q.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("MATRIX\x02\x01\x00\x08txn-1234")) {
		t.Fatalf("unexpected header % x", raw[:18])
	}
	got, err := verification.ParseQRCode(raw)
	if err != nil {
		t.Fatalf("ParseQRCode: %v", err)
	}
	if got.Mode != q.Mode || got.TransactionID != q.TransactionID ||
		got.FirstKey != q.FirstKey || got.SecondKey != q.SecondKey || !bytes.Equal(got.Secret, q.Secret) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestQRCode_ParseRejects(t *testing.T) {
	good, err := (&verification.QRCodeData{TransactionID: "t", Secret: make([]byte, 16)}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mutate := func(f func([]byte) []byte) []byte { return f(bytes.Clone(good)) }
	cases := map[string][]byte{
		"prefix":       mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"version":      mutate(func(b []byte) []byte { b[6] = 0x01; return b }),
		"mode":         mutate(func(b []byte) []byte { b[7] = 0x03; return b }),
		"short secret": good[:len(good)-9],
		"header only":  good[:9],
	}
	for name, raw := range cases {
		if _, err := verification.ParseQRCode(raw); !errors.Is(err, verification.ErrInvalidQRCode) {
			t.Fatalf("%s: got %v, want ErrInvalidQRCode", name, err)
		}
	}
}

func TestGenerateQRCode_NeedsTransaction(t *testing.T) {
	a := newPeer(alice, "ALICEDEV")
	r := a.request(bob, []domain.DeviceID{"BOBDEV1"}, "", stubMethods(methodAlpha))
	if _, err := r.GenerateQRCode(verification.ModeVerifyOtherUser, domain.Ed25519Public{}, domain.Ed25519Public{}); !errors.Is(err, verification.ErrNoTransaction) {
		t.Fatalf("got %v, want ErrNoTransaction", err)
	}
	if r.QRCode() != nil {
		t.Fatal("QR code stored without transaction")
	}
}
