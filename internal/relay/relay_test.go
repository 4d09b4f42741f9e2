package relay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"devtrust/internal/relay"
	"devtrust/internal/rendezvous"
)

func newRelay(t *testing.T, cfg relay.ServerConfig) (*relay.Server, relay.Config) {
	t.Helper()
	srv := relay.NewServer(cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, relay.Config{
		BaseURL:      ts.URL,
		HTTP:         ts.Client(),
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  200 * time.Millisecond,
	}
}

func TestSession_Exchange(t *testing.T) {
	ctx := context.Background()
	srv, cfg := newRelay(t, relay.ServerConfig{})

	a := relay.NewSession(cfg)
	d, err := a.Details(ctx)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if d.Type != rendezvous.TransportHTTP || !strings.HasPrefix(d.URI, cfg.BaseURL+relay.Path+"/") {
		t.Fatalf("details = %+v", d)
	}
	if srv.Len() != 1 {
		t.Fatalf("server holds %d sessions, want 1", srv.Len())
	}

	b, err := relay.Transports(cfg)[rendezvous.TransportHTTP](d)
	if err != nil {
		t.Fatalf("transport factory: %v", err)
	}

	got, err := a.Receive(ctx)
	if err != nil || got != nil {
		t.Fatalf("Receive on an untouched session = %q, %v", got, err)
	}

	for i, msg := range []string{"one", "two", "three"} {
		from, to := rendezvous.Transport(b), rendezvous.Transport(a)
		if i%2 == 1 {
			from, to = a, b
		}
		if err := from.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
		got, err := to.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if string(got) != msg {
			t.Fatalf("Receive = %q, want %q", got, msg)
		}
		// Writers never read back their own message.
		if echo, err := from.Receive(ctx); err != nil || echo != nil {
			t.Fatalf("writer read %q, %v", echo, err)
		}
	}
}

func TestSession_StaleWriteConflicts(t *testing.T) {
	ctx := context.Background()
	_, cfg := newRelay(t, relay.ServerConfig{})
	a := relay.NewSession(cfg)
	d, err := a.Details(ctx)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	b := relay.JoinSession(d.URI, cfg)
	if _, err := b.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := a.Send(ctx, []byte("first")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := b.Send(ctx, []byte("second")); !errors.Is(err, relay.ErrConflict) {
		t.Fatalf("stale Send: got %v, want ErrConflict", err)
	}
}

func TestSession_BackToBackWrites(t *testing.T) {
	ctx := context.Background()
	_, cfg := newRelay(t, relay.ServerConfig{})
	a := relay.NewSession(cfg)
	d, err := a.Details(ctx)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	b := relay.JoinSession(d.URI, cfg)
	if err := b.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got, err := a.Receive(ctx); err != nil || string(got) != "hello" {
		t.Fatalf("Receive = %q, %v", got, err)
	}
	for _, msg := range []string{"ack", "offer"} {
		if err := a.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range []string{"ack", "offer"} {
		got, err := b.Receive(ctx)
		if err != nil || string(got) != want {
			t.Fatalf("Receive = %q, %v, want %q", got, err, want)
		}
	}
	if err := b.Send(ctx, []byte("reply")); err != nil {
		t.Fatalf("Send after catching up: %v", err)
	}
}

func TestSession_CloseCancelsOtherSide(t *testing.T) {
	ctx := context.Background()
	srv, cfg := newRelay(t, relay.ServerConfig{})
	a := relay.NewSession(cfg)
	d, err := a.Details(ctx)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	b := relay.JoinSession(d.URI, cfg)

	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if srv.Len() != 0 {
		t.Fatal("session still on the relay")
	}
	if _, err := b.Receive(ctx); !errors.Is(err, relay.ErrCancelled) {
		t.Fatalf("Receive: got %v, want ErrCancelled", err)
	}
	if err := b.Send(ctx, []byte("x")); !errors.Is(err, relay.ErrCancelled) {
		t.Fatalf("Send: got %v, want ErrCancelled", err)
	}
	if err := a.Send(ctx, []byte("x")); !errors.Is(err, relay.ErrClosed) {
		t.Fatalf("Send after Close: got %v, want ErrClosed", err)
	}
}

func TestSession_Expires(t *testing.T) {
	ctx := context.Background()
	_, cfg := newRelay(t, relay.ServerConfig{TTL: 50 * time.Millisecond})
	a := relay.NewSession(cfg)
	if _, err := a.Details(ctx); err != nil {
		t.Fatalf("Details: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if _, err := a.Receive(ctx); !errors.Is(err, relay.ErrExpired) {
		t.Fatalf("Receive: got %v, want ErrExpired", err)
	}
}

func TestServer_SweepDropsExpired(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Now().UnixNano())
	now := func() time.Time { return time.Unix(0, clock.Load()) }
	srv, cfg := newRelay(t, relay.ServerConfig{TTL: time.Minute, Now: now})
	for range 3 {
		if _, err := relay.NewSession(cfg).Details(context.Background()); err != nil {
			t.Fatalf("Details: %v", err)
		}
	}
	if n := srv.Sweep(); n != 0 {
		t.Fatalf("Sweep removed %d live sessions", n)
	}
	clock.Add(int64(2 * time.Minute))
	if n := srv.Sweep(); n != 3 || srv.Len() != 0 {
		t.Fatalf("Sweep removed %d, %d left", n, srv.Len())
	}
}

func TestServer_Protocol(t *testing.T) {
	_, cfg := newRelay(t, relay.ServerConfig{MaxBody: 16})
	c := cfg.HTTP

	resp, err := c.Post(cfg.BaseURL+relay.Path, "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || resp.Header.Get("ETag") == "" || resp.Header.Get("Expires") == "" {
		t.Fatalf("POST: %s %v", resp.Status, resp.Header)
	}
	loc, etag := resp.Header.Get("Location"), resp.Header.Get("ETag")

	do := func(method, body string, header ...string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, loc, strings.NewReader(body))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		for i := 0; i+1 < len(header); i += 2 {
			req.Header.Set(header[i], header[i+1])
		}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		resp.Body.Close()
		return resp
	}

	if r := do(http.MethodGet, "", "If-None-Match", etag); r.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional GET: %s", r.Status)
	}
	if r := do(http.MethodPut, "hi", "If-Match", `"stale"`); r.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("stale PUT: %s", r.Status)
	}
	if r := do(http.MethodPut, strings.Repeat("x", 17)); r.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("large PUT: %s", r.Status)
	}
	r := do(http.MethodPut, "hi", "If-Match", etag)
	if r.StatusCode != http.StatusAccepted || r.Header.Get("ETag") == etag {
		t.Fatalf("PUT: %s etag %q", r.Status, r.Header.Get("ETag"))
	}
	if r := do(http.MethodPost, ""); r.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST to session: %s", r.Status)
	}
	if r := do(http.MethodDelete, ""); r.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE: %s", r.Status)
	}
	if r := do(http.MethodGet, ""); r.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after DELETE: %s", r.Status)
	}
}

func TestTransports_RejectsBadURI(t *testing.T) {
	f := relay.Transports(relay.Config{})[rendezvous.TransportHTTP]
	for _, uri := range []string{"", "ftp://relay/x", "not a url"} {
		if _, err := f(rendezvous.TransportDetails{Type: rendezvous.TransportHTTP, URI: uri}); err == nil {
			t.Errorf("factory accepted %q", uri)
		}
	}
}

// A full login handshake through the relay.
func TestSecureChannelOverRelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, cfg := newRelay(t, relay.ServerConfig{})
	cfg.PollTimeout = 5 * time.Second

	gen, err := rendezvous.NewSecureChannel(relay.NewSession(cfg), nil)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}
	code, err := gen.GenerateCode(ctx, rendezvous.IntentReciprocateLogin)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	qr, err := code.QR("example.org")
	if err != nil {
		t.Fatalf("QR: %v", err)
	}
	scan, _, err := rendezvous.BuildChannelFromQR(qr, relay.Transports(cfg), nil)
	if err != nil {
		t.Fatalf("BuildChannelFromQR: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error { return gen.Connect(ctx) })
	g.Go(func() error { return scan.Connect(ctx) })
	if err := g.Wait(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	gc, _ := gen.CheckCode()
	sc, _ := scan.CheckCode()
	if gc != sc {
		t.Fatalf("check codes differ: %q vs %q", gc, sc)
	}

	offer := rendezvous.Payload{Type: rendezvous.PayloadProtocols, Protocols: []string{rendezvous.ProtocolDeviceAuthorization}, Homeserver: "https://example.org"}
	if err := gen.SecureSend(ctx, offer); err != nil {
		t.Fatalf("SecureSend: %v", err)
	}
	got, err := scan.ReceivePayload(ctx)
	if err != nil {
		t.Fatalf("ReceivePayload: %v", err)
	}
	if got.Type != offer.Type || got.Homeserver != offer.Homeserver {
		t.Fatalf("payload = %+v", got)
	}
	if err := scan.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var out any
	if err := gen.SecureReceive(ctx, &out); !errors.Is(err, relay.ErrCancelled) {
		t.Fatalf("SecureReceive after peer closed: got %v", err)
	}
}
