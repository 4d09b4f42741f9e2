package identity_test

import (
	"errors"
	"testing"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
	"devtrust/internal/services/identity"
	"devtrust/internal/store"
)

const goodPass = "Correct-Horse-9-Battery"

func TestGenerateIdentity_RoundTrip(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()))

	id, fp, err := svc.GenerateIdentity(goodPass, "@alice:example.org", "ALICEDEV")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if id.UserID != "@alice:example.org" || id.DeviceID != "ALICEDEV" {
		t.Fatalf("identity address = %s", id.Device())
	}
	if fp != identity.Fingerprint(id) {
		t.Fatalf("fingerprint %q, want %q", fp, identity.Fingerprint(id))
	}

	loaded, err := svc.LoadIdentity(goodPass)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if loaded != id {
		t.Fatal("loaded identity differs from generated one")
	}
	got, err := svc.FingerprintIdentity(goodPass)
	if err != nil {
		t.Fatalf("FingerprintIdentity: %v", err)
	}
	if got != fp {
		t.Fatalf("FingerprintIdentity = %q, want %q", got, fp)
	}

	sig := crypto.SignEd25519(loaded.EdPriv, []byte("hello"))
	if !crypto.VerifyEd25519(id.EdPub, []byte("hello"), sig) {
		t.Fatal("stored signing key does not match its public half")
	}
}

func TestGenerateIdentity_Rejects(t *testing.T) {
	svc := identity.New(store.NewIdentityFileStore(t.TempDir()))
	cases := []struct {
		pass, user, device string
		want               error
	}{
		{"short1!A", "@a:b", "D", identity.ErrWeakPassphrase},
		{"alllowercase-123", "@a:b", "D", identity.ErrWeakPassphrase},
		{"NoDigitsHere!!xx", "@a:b", "D", identity.ErrWeakPassphrase},
		{"NoSymbols123abc", "@a:b", "D", identity.ErrWeakPassphrase},
		{goodPass, "alice", "D", identity.ErrBadUserID},
		{goodPass, "@alice", "D", identity.ErrBadUserID},
		{goodPass, "@:example.org", "D", identity.ErrBadUserID},
		{goodPass, "@a:b", " ", identity.ErrBadDeviceID},
	}
	for _, tc := range cases {
		_, _, err := svc.GenerateIdentity(tc.pass, domain.UserID(tc.user), domain.DeviceID(tc.device))
		if !errors.Is(err, tc.want) {
			t.Errorf("GenerateIdentity(%q, %q, %q) = %v, want %v", tc.pass, tc.user, tc.device, err, tc.want)
		}
	}
}
