package verification

import (
	"context"
	"log/slog"
	"sort"

	"devtrust/internal/domain"
)

// Verification method identifiers.
const (
	MethodReciprocate = "m.reciprocate.v1"
	MethodQRShow      = "m.qr_code.show.v1"
	MethodQRScan      = "m.qr_code.scan.v1"
)

// Verifier runs one verification method once both parties agreed on it.
type Verifier interface {
	Method() string
	// Verify drives the method to completion. It returns nil once the
	// method finished and a done event was sent.
	Verify(ctx context.Context) error
	// HandleEvent receives events from the other party after the verifier
	// was created.
	HandleEvent(ctx context.Context, ev *Event) error
	// Cancel aborts the verifier locally. It never sends anything.
	Cancel(err error)
	// Done is closed once the verifier finished or was cancelled.
	Done() <-chan struct{}
}

// Host is the request as seen by its verifier.
type Host interface {
	Send(ctx context.Context, typ EventType, content Content) error
	// Finish sends done and lets the request complete.
	Finish(ctx context.Context) error
	// Fail cancels the request with c and tells the other party.
	Fail(ctx context.Context, c *Cancellation)
	TransactionID() string
	OtherUser() domain.UserID
	OtherDevice() domain.DeviceID
	// ShownQRCode is the QR data this device displayed, if any.
	ShownQRCode() *QRCodeData
	Logger() *slog.Logger
}

// Factory creates a verifier. start is the other party's start event, or
// nil when we are the side sending start.
type Factory func(host Host, start *Event) Verifier

// Methods maps method identifiers to their factories.
type Methods map[string]Factory

// Names returns the registered methods in sorted order.
func (m Methods) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMethods registers QR reciprocation. The QR show/scan methods are
// advertised so peers offer QR codes, but cannot be started directly.
func DefaultMethods(trust domain.TrustStore, own domain.Ed25519Public) Methods {
	return Methods{
		MethodReciprocate: ReciprocateFactory(trust, own),
		MethodQRShow:      IllegalMethodFactory(MethodQRShow),
		MethodQRScan:      IllegalMethodFactory(MethodQRScan),
	}
}

// host adapts a Request to Host.
type host struct {
	r *Request
	v Verifier
}

func (h *host) Send(ctx context.Context, typ EventType, content Content) error {
	if typ == EventStart {
		return h.r.sendStart(ctx, h.v, content)
	}
	return h.r.channel.Send(ctx, typ, content)
}

func (h *host) Finish(ctx context.Context) error {
	if err := h.r.channel.Send(ctx, EventDone, Content{}); err != nil {
		return err
	}
	h.r.finishVerifier(ctx)
	return nil
}

func (h *host) Fail(ctx context.Context, c *Cancellation) { h.r.cancelInternal(ctx, c) }

func (h *host) TransactionID() string    { return h.r.channel.TransactionID() }
func (h *host) OtherUser() domain.UserID { return h.r.channel.UserID() }
func (h *host) Logger() *slog.Logger     { return h.r.log }

func (h *host) OtherDevice() domain.DeviceID {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.otherDeviceLocked()
}

func (h *host) ShownQRCode() *QRCodeData { return h.r.QRCode() }
