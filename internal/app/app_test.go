package app_test

import (
	"errors"
	"testing"

	"devtrust/internal/app"
	"devtrust/internal/rendezvous"
	"devtrust/internal/store"
)

const pass = "Correct-Horse-42"

func TestOpen_LoadsIdentity(t *testing.T) {
	w, err := app.NewWire(app.Config{Home: t.TempDir()})
	if err != nil {
		t.Fatalf("NewWire: %v", err)
	}
	id, fp, err := w.IDs.GenerateIdentity(pass, "@alice:example.org", "LAPTOP")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}

	a, err := app.Open(w, pass)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Me != id || a.Fingerprint != fp || a.Login == nil {
		t.Fatalf("Open = %+v", a)
	}

	if _, err := app.Open(w, "Wrong-Horse-42!"); !errors.Is(err, store.ErrWrongPassphrase) {
		t.Fatalf("Open with wrong passphrase: got %v", err)
	}
	if _, err := app.Open(w, ""); err == nil {
		t.Fatal("Open without passphrase succeeded")
	}
}

func TestWire_Channels(t *testing.T) {
	w, err := app.NewWire(app.Config{Home: t.TempDir()})
	if err != nil {
		t.Fatalf("NewWire: %v", err)
	}
	if _, err := w.NewChannel(); !errors.Is(err, app.ErrNoRelay) {
		t.Fatalf("NewChannel without relay: got %v", err)
	}
	if _, _, err := w.JoinChannel("{not json"); !rendezvous.IsKind(err, rendezvous.KindInvalidCode) {
		t.Fatalf("JoinChannel: got %v, want invalid code", err)
	}
	if _, _, err := w.JoinChannel("!!!"); err == nil {
		t.Fatal("JoinChannel accepted garbage")
	}
	if _, err := app.NewWire(app.Config{}); err == nil {
		t.Fatal("NewWire without home succeeded")
	}
}
