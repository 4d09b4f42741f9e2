package verification_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"devtrust/internal/domain"
	"devtrust/internal/verification"
)

const (
	alice = domain.UserID("@alice:example.org")
	bob   = domain.UserID("@bob:example.org")
	eve   = domain.UserID("@eve:example.org")

	methodAlpha = "m.test.alpha"
	methodBeta  = "m.test.beta"
)

// sent is one to-device message recorded by fakeToDevice.
type sent struct {
	Type    verification.EventType
	To      domain.Device
	Content verification.Content
}

type fakeToDevice struct {
	mu   sync.Mutex
	out  []sent
	fail error
	// during, when set, runs once before the next message of its type is
	// recorded, as if other traffic were handled while the send is on the
	// wire.
	during     func()
	duringType verification.EventType
}

func (f *fakeToDevice) SendToDevice(
	_ context.Context,
	eventType string,
	msgs map[domain.UserID]map[domain.DeviceID]map[string]any,
) error {
	f.mu.Lock()
	hook := f.during
	if hook != nil && f.duringType == verification.EventType(eventType) {
		f.during = nil
	} else {
		hook = nil
	}
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for user, devices := range msgs {
		for device, content := range devices {
			f.out = append(f.out, sent{
				Type:    verification.EventType(eventType),
				To:      domain.Device{UserID: user, DeviceID: device},
				Content: verification.Content(content).Clone(),
			})
		}
	}
	return nil
}

// take drains the recorded messages.
func (f *fakeToDevice) take() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

// waitFor drains at least n messages, giving asynchronous senders a second.
func (f *fakeToDevice) waitFor(t *testing.T, n int) []sent {
	t.Helper()
	var out []sent
	deadline := time.Now().Add(time.Second)
	for len(out) < n && time.Now().Before(deadline) {
		out = append(out, f.take()...)
		if len(out) < n {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return out
}

type fakeRoom struct {
	mu     sync.Mutex
	sender domain.UserID
	n      int
	events []*verification.Event
}

func (f *fakeRoom) SendEvent(_ context.Context, room domain.RoomID, eventType string, content map[string]any) (domain.EventID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	id := domain.EventID(fmt.Sprintf("$%s%d", f.sender[1:2], f.n))
	f.events = append(f.events, &verification.Event{
		Type:      verification.EventType(eventType),
		Sender:    f.sender,
		RoomID:    room,
		EventID:   id,
		Timestamp: time.Now(),
		Content:   verification.Content(content).Clone(),
	})
	return id, nil
}

func (f *fakeRoom) take() []*verification.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

type memTrust struct {
	mu   sync.Mutex
	keys []domain.TrustedKey
}

func (m *memTrust) MarkVerified(k domain.TrustedKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, k)
	return nil
}

func (m *memTrust) TrustedKeys(user domain.UserID) ([]domain.TrustedKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TrustedKey
	for _, k := range m.keys {
		if k.UserID == user {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memTrust) IsVerified(user domain.UserID, key domain.Ed25519Public) (bool, error) {
	keys, _ := m.TrustedKeys(user)
	for _, k := range keys {
		if k.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// stubVerifier sends start when initiating and finishes straight away when
// answering a start.
type stubVerifier struct {
	method    string
	host      verification.Host
	start     *verification.Event
	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	cancelled error
}

func stubFactory(method string) verification.Factory {
	return func(h verification.Host, start *verification.Event) verification.Verifier {
		return &stubVerifier{method: method, host: h, start: start, done: make(chan struct{})}
	}
}

func (v *stubVerifier) Method() string { return v.method }

func (v *stubVerifier) Verify(ctx context.Context) error {
	if v.start == nil {
		return v.host.Send(ctx, verification.EventStart, verification.Content{"method": v.method})
	}
	return v.host.Finish(ctx)
}

func (v *stubVerifier) HandleEvent(context.Context, *verification.Event) error { return nil }

func (v *stubVerifier) Cancel(err error) {
	v.once.Do(func() {
		v.mu.Lock()
		v.cancelled = err
		v.mu.Unlock()
		close(v.done)
	})
}

func (v *stubVerifier) Done() <-chan struct{} { return v.done }

func (v *stubVerifier) cancelErr() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancelled
}

func stubMethods(names ...string) verification.Methods {
	m := verification.Methods{}
	for _, n := range names {
		m[n] = stubFactory(n)
	}
	return m
}

// peer is one device taking part in a to-device exchange.
type peer struct {
	dev   domain.Device
	net   *fakeToDevice
	trust *memTrust
}

func newPeer(user domain.UserID, device domain.DeviceID) *peer {
	return &peer{
		dev:   domain.Device{UserID: user, DeviceID: device},
		net:   &fakeToDevice{},
		trust: &memTrust{},
	}
}

func (p *peer) request(other domain.UserID, devices []domain.DeviceID, txn string, methods verification.Methods) *verification.Request {
	ch := verification.NewToDeviceChannel(p.net, p.dev, other, devices, txn)
	return verification.NewRequest(ch, verification.Options{Own: p.dev, Methods: methods})
}

// deliver hands s to r as an event from user.
func deliver(t *testing.T, r *verification.Request, from domain.UserID, s sent, live bool) {
	t.Helper()
	ev := &verification.Event{Type: s.Type, Sender: from, Content: s.Content.Clone()}
	if err := r.Channel().HandleEvent(context.Background(), ev, live); err != nil {
		t.Fatalf("HandleEvent(%s): %v", s.Type, err)
	}
}

// only returns the messages of typ addressed to device.
func only(msgs []sent, typ verification.EventType, device domain.DeviceID) []sent {
	var out []sent
	for _, m := range msgs {
		if m.Type == typ && m.To.DeviceID == device {
			out = append(out, m)
		}
	}
	return out
}

func one(t *testing.T, msgs []sent, typ verification.EventType, device domain.DeviceID) sent {
	t.Helper()
	got := only(msgs, typ, device)
	if len(got) != 1 {
		t.Fatalf("want exactly one %s to %s, got %d (all: %+v)", typ, device, len(got), msgs)
	}
	return got[0]
}

// requestedPair sends a to-device request from alice to bob's two devices
// and delivers it to BOBDEV1.
func requestedPair(t *testing.T, aliceMethods, bobMethods verification.Methods) (a, b *peer, aReq, bReq *verification.Request) {
	t.Helper()
	ctx := context.Background()
	a = newPeer(alice, "ALICEDEV")
	b = newPeer(bob, "BOBDEV1")

	aReq = a.request(bob, []domain.DeviceID{"BOBDEV1", "BOBDEV2"}, "", aliceMethods)
	if err := aReq.SendRequest(ctx); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if aReq.Phase() != verification.PhaseRequested {
		t.Fatalf("alice phase = %v, want requested", aReq.Phase())
	}
	reqMsg := one(t, a.net.take(), verification.EventRequest, "BOBDEV1")

	txn := aReq.Channel().TransactionID()
	bReq = b.request(alice, []domain.DeviceID{"ALICEDEV"}, txn, bobMethods)
	deliver(t, bReq, alice, reqMsg, true)
	if bReq.Phase() != verification.PhaseRequested {
		t.Fatalf("bob phase = %v, want requested", bReq.Phase())
	}
	return a, b, aReq, bReq
}

// readyPair drives a to-device request from alice to bob's two devices
// until BOBDEV1 accepted it. It returns the messages alice sent after
// seeing the ready.
func readyPair(t *testing.T, aliceMethods, bobMethods verification.Methods) (a, b *peer, aReq, bReq *verification.Request, after []sent) {
	t.Helper()
	ctx := context.Background()
	a, b, aReq, bReq = requestedPair(t, aliceMethods, bobMethods)
	if err := bReq.Accept(ctx); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	deliver(t, aReq, bob, one(t, b.net.take(), verification.EventReady, "ALICEDEV"), true)
	if aReq.Phase() != verification.PhaseReady {
		t.Fatalf("alice phase = %v, want ready", aReq.Phase())
	}
	return a, b, aReq, bReq, a.net.take()
}
