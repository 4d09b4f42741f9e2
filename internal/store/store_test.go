package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devtrust/internal/domain"
	"devtrust/internal/store"
)

func TestIdentity_SaveLoad_OK(t *testing.T) {
	home := t.TempDir()
	pass := "pass"

	var ids domain.IdentityStore = store.NewIdentityFileStore(home)

	id := domain.Identity{
		UserID:   "@alice:example.org",
		DeviceID: "ALICEDEV",
		XPub:     domain.X25519Public{1},
		XPriv:    domain.X25519Private{2},
		EdPub:    domain.Ed25519Public{3},
		EdPriv:   domain.Ed25519Private{4},
	}

	if err := ids.SaveIdentity(pass, id); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	got, err := ids.LoadIdentity(pass)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if got != id {
		t.Fatalf("mismatch after load: %+v", got)
	}

	info, err := os.Stat(filepath.Join(home, "identity.json.enc"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("identity file mode = %v", info.Mode().Perm())
	}
}

func TestIdentity_WrongPassphrase_Fails(t *testing.T) {
	home := t.TempDir()
	ids := store.NewIdentityFileStore(home)

	id := domain.Identity{XPub: domain.X25519Public{1}, XPriv: domain.X25519Private{2}}

	if err := ids.SaveIdentity("correct", id); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if _, err := ids.LoadIdentity("wrong"); !errors.Is(err, store.ErrWrongPassphrase) {
		t.Fatalf("LoadIdentity with wrong passphrase: got %v", err)
	}
}

func TestIdentity_Missing(t *testing.T) {
	ids := store.NewIdentityFileStore(t.TempDir())
	if ids.Exists() {
		t.Fatal("Exists on an empty home")
	}
	if _, err := ids.LoadIdentity("x"); !errors.Is(err, store.ErrNoIdentity) {
		t.Fatalf("LoadIdentity: got %v, want ErrNoIdentity", err)
	}
}

func TestIdentity_TamperedFileFails(t *testing.T) {
	home := t.TempDir()
	ids := store.NewIdentityFileStore(home)
	if err := ids.SaveIdentity("pw", domain.Identity{UserID: "@a:b"}); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	path := filepath.Join(home, "identity.json.enc")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Relabel the blob; the label is authenticated.
	b = []byte(strings.Replace(string(b), `"label":"identity"`, `"label":"trust"`, 1))
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ids.LoadIdentity("pw"); !errors.Is(err, store.ErrWrongPassphrase) {
		t.Fatalf("LoadIdentity: got %v, want ErrWrongPassphrase", err)
	}
}

func TestTrust_MarkAndQuery(t *testing.T) {
	home := t.TempDir()
	var ts domain.TrustStore = store.NewTrustFileStore(home)

	alice := domain.UserID("@alice:example.org")
	bob := domain.UserID("@bob:example.org")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if ok, err := ts.IsVerified(alice, domain.Ed25519Public{1}); err != nil || ok {
		t.Fatalf("IsVerified on empty store = %v, %v", ok, err)
	}

	records := []domain.TrustedKey{
		{UserID: bob, DeviceID: "B1", Key: domain.Ed25519Public{9}, Method: "m.reciprocate.v1", VerifiedAt: at},
		{UserID: alice, DeviceID: "A1", Key: domain.Ed25519Public{1}, Method: "m.reciprocate.v1", VerifiedAt: at},
		{UserID: alice, DeviceID: "A1", Key: domain.Ed25519Public{1}, Method: "m.reciprocate.v1", VerifiedAt: at.Add(time.Hour)},
		{UserID: alice, DeviceID: "A2", Key: domain.Ed25519Public{2}, Method: "m.reciprocate.v1", VerifiedAt: at.Add(time.Minute)},
	}
	for _, k := range records {
		if err := ts.MarkVerified(k); err != nil {
			t.Fatalf("MarkVerified: %v", err)
		}
	}

	keys, err := ts.TrustedKeys(alice)
	if err != nil {
		t.Fatalf("TrustedKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("alice has %d trusted keys, want 2", len(keys))
	}
	if !keys[0].VerifiedAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("re-verification did not refresh the record: %v", keys[0].VerifiedAt)
	}
	if ok, err := ts.IsVerified(alice, domain.Ed25519Public{2}); err != nil || !ok {
		t.Fatalf("IsVerified = %v, %v", ok, err)
	}
	if ok, _ := ts.IsVerified(bob, domain.Ed25519Public{1}); ok {
		t.Fatal("alice's key counted for bob")
	}

	// A second store over the same directory sees everything, sorted.
	all, err := store.NewTrustFileStore(home).All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 3 || all[0].DeviceID != "A2" || all[1].DeviceID != "A1" || all[2].UserID != bob {
		t.Fatalf("All = %+v", all)
	}
}
