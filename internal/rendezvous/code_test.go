package rendezvous_test

import (
	"bytes"
	"context"
	"testing"

	"devtrust/internal/crypto"
	"devtrust/internal/rendezvous"
)

func testKey(t *testing.T) string {
	t.Helper()
	b, err := crypto.RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return crypto.B64(b)
}

func TestParseCode_Categories(t *testing.T) {
	key := testKey(t)
	cases := []struct {
		name string
		code string
		kind rendezvous.ErrKind
	}{
		{"not json", "hello there", rendezvous.KindInvalidCode},
		{"missing transport type", `{"intent":"login.start","rendezvous":{"algorithm":"` + rendezvous.Algorithm + `","key":"` + key + `","transport":{"uri":"https://r"}}}`, rendezvous.KindInvalidCode},
		{"missing intent", `{"rendezvous":{"algorithm":"` + rendezvous.Algorithm + `","key":"` + key + `","transport":{"type":"` + rendezvous.TransportHTTP + `","uri":"https://r"}}}`, rendezvous.KindInvalidIntent},
		{"unknown intent", `{"intent":"login.sideways","rendezvous":{"algorithm":"` + rendezvous.Algorithm + `","key":"` + key + `","transport":{"type":"` + rendezvous.TransportHTTP + `","uri":"https://r"}}}`, rendezvous.KindInvalidIntent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := rendezvous.ParseCode(tc.code); !rendezvous.IsKind(err, tc.kind) {
				t.Fatalf("ParseCode: got %v, want %v", err, tc.kind)
			}
			if _, _, err := rendezvous.BuildChannelFromCode(tc.code, nil, nil); !rendezvous.IsKind(err, tc.kind) {
				t.Fatalf("BuildChannelFromCode: got %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestBuildChannelFromCode_Rejects(t *testing.T) {
	key := testKey(t)
	p, _ := newPipes()
	transports := transportsFor(p)
	cases := []struct {
		name string
		code string
		kind rendezvous.ErrKind
	}{
		{"unknown transport", `{"intent":"login.start","rendezvous":{"algorithm":"` + rendezvous.Algorithm + `","key":"` + key + `","transport":{"type":"carrier.pigeon"}}}`, rendezvous.KindUnsupportedTransport},
		{"unknown algorithm", `{"intent":"login.start","rendezvous":{"algorithm":"rot13","key":"` + key + `","transport":{"type":"` + rendezvous.TransportHTTP + `"}}}`, rendezvous.KindUnsupportedAlgorithm},
		{"bad key", `{"intent":"login.start","rendezvous":{"algorithm":"` + rendezvous.Algorithm + `","key":"c2hvcnQ","transport":{"type":"` + rendezvous.TransportHTTP + `"}}}`, rendezvous.KindInvalidCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := rendezvous.BuildChannelFromCode(tc.code, transports, nil); !rendezvous.IsKind(err, tc.kind) {
				t.Fatalf("got %v, want %v", err, tc.kind)
			}
		})
	}
}

func TestBuildChannelFromCode_Intents(t *testing.T) {
	for _, intent := range []rendezvous.Intent{rendezvous.IntentLoginOnNewDevice, rendezvous.IntentReciprocateLogin} {
		gp, sp := newPipes()
		gen, err := rendezvous.NewSecureChannel(gp, nil)
		if err != nil {
			t.Fatalf("NewSecureChannel: %v", err)
		}
		code, err := gen.GenerateCode(context.Background(), intent)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		ch, got, err := rendezvous.BuildChannelFromCode(code.String(), transportsFor(sp), nil)
		if err != nil {
			t.Fatalf("BuildChannelFromCode(%s): %v", intent, err)
		}
		if got != intent || ch.Intent() != intent || gen.Intent() != intent {
			t.Fatalf("intent = %q, want %q", got, intent)
		}
	}
}

func TestQR_RoundTrip(t *testing.T) {
	key := testKey(t)
	cases := []struct {
		intent rendezvous.Intent
		server string
		mode   byte
	}{
		{rendezvous.IntentLoginOnNewDevice, "", 0x03},
		{rendezvous.IntentReciprocateLogin, "example.org", 0x04},
	}
	for _, tc := range cases {
		code := &rendezvous.Code{
			Intent: tc.intent,
			Rendezvous: rendezvous.Details{
				Algorithm: rendezvous.Algorithm,
				Key:       key,
				Transport: rendezvous.TransportDetails{Type: rendezvous.TransportHTTP, URI: relayURI},
			},
		}
		b, err := code.QR(tc.server)
		if err != nil {
			t.Fatalf("QR: %v", err)
		}
		if !bytes.HasPrefix(b, []byte("MATRIX\x02")) || b[7] != tc.mode {
			t.Fatalf("QR header = %q", b[:8])
		}
		got, server, err := rendezvous.ParseQR(b)
		if err != nil {
			t.Fatalf("ParseQR: %v", err)
		}
		if *got != *code || server != tc.server {
			t.Fatalf("ParseQR = %+v %q, want %+v %q", got, server, code, tc.server)
		}

		p, _ := newPipes()
		ch, intent, err := rendezvous.BuildChannelFromQR(b, transportsFor(p), nil)
		if err != nil {
			t.Fatalf("BuildChannelFromQR: %v", err)
		}
		if intent != tc.intent || ch.ServerName() != tc.server {
			t.Fatalf("channel intent %q server %q", intent, ch.ServerName())
		}
	}
}

func TestParseQR_Rejects(t *testing.T) {
	key := make([]byte, 32)
	valid := append([]byte("MATRIX\x02\x03"), key...)
	valid = append(valid, 0, 1, 'u')

	cases := map[string][]byte{
		"prefix":    []byte("MATRIC\x02\x03"),
		"truncated": []byte("MATRIX\x02\x03abc"),
		"version":   append([]byte("MATRIX\x01"), valid[7:]...),
		"trailing":  append(bytes.Clone(valid), 'x'),
		"no server": append(append([]byte("MATRIX\x02\x04"), key...), 0, 1, 'u'),
		"long uri":  append(append([]byte("MATRIX\x02\x03"), key...), 0, 9, 'u'),
	}
	for name, b := range cases {
		if _, _, err := rendezvous.ParseQR(b); !rendezvous.IsKind(err, rendezvous.KindInvalidCode) {
			t.Errorf("%s: got %v, want invalid code", name, err)
		}
	}
	if _, _, err := rendezvous.ParseQR(append([]byte("MATRIX\x02\x09"), valid[8:]...)); !rendezvous.IsKind(err, rendezvous.KindInvalidIntent) {
		t.Errorf("mode: got %v, want invalid intent", err)
	}
	if _, _, err := rendezvous.ParseQR(valid); err != nil {
		t.Fatalf("ParseQR(valid): %v", err)
	}
}
