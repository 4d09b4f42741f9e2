package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"devtrust/internal/domain"
	"devtrust/internal/verification"
)

var (
	// ErrNoDevices is returned when a to-device request has nobody to go to.
	ErrNoDevices = errors.New("no devices to verify with")
	// ErrNoTransport is returned when the service was built without the
	// sender a request kind needs.
	ErrNoTransport = errors.New("no transport configured for this request kind")
)

// Config wires a Service to its collaborators.
type Config struct {
	Own      domain.Device
	ToDevice domain.ToDeviceSender
	Room     domain.RoomSender
	// Devices resolves a user's devices when RequestVerification is called
	// without an explicit list.
	Devices domain.DeviceLister
	Methods verification.Methods
	Timeout time.Duration
	Logger  *slog.Logger
}

// Service tracks every verification request of the local device.
type Service struct {
	cfg      Config
	log      *slog.Logger
	toDevice *verification.ToDeviceRequests
	rooms    *verification.RoomRequests

	mu        sync.Mutex
	onRequest []func(*verification.Request)
}

// New returns a service with empty registries.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		log:      log.With("user", cfg.Own.UserID, "device", cfg.Own.DeviceID),
		toDevice: verification.NewToDeviceRequests(),
		rooms:    verification.NewRoomRequests(),
	}
}

// OnRequest registers fn for new inbound requests this device can act on.
func (s *Service) OnRequest(fn func(*verification.Request)) {
	s.mu.Lock()
	s.onRequest = append(s.onRequest, fn)
	s.mu.Unlock()
}

// HandleToDeviceEvent routes a device-targeted verification event.
func (s *Service) HandleToDeviceEvent(ctx context.Context, ev *verification.Event) error {
	if !verification.IsVerificationType(ev.Type) {
		return nil
	}
	txn := verification.ToDeviceTransactionID(ev)
	if txn == "" {
		s.log.Debug("dropping to-device event without transaction", "type", ev.Type, "sender", ev.Sender)
		return nil
	}

	r := s.toDevice.GetByEvent(ev)
	created := false
	if r == nil {
		if ev.Type != verification.EventRequest && ev.Type != verification.EventStart {
			s.log.Debug("ignoring event for unknown transaction", "type", ev.Type, "txn", txn, "sender", ev.Sender)
			return nil
		}
		if s.cfg.ToDevice == nil {
			return ErrNoTransport
		}
		from := domain.DeviceID(ev.Content.String("from_device"))
		ch := verification.NewToDeviceChannel(s.cfg.ToDevice, s.cfg.Own, ev.Sender, []domain.DeviceID{from}, txn)
		r = s.newRequest(ch, func() { s.toDevice.Remove(ev.Sender, txn) })
		s.toDevice.Set(ev.Sender, txn, r)
		created = true
	}

	if err := r.Channel().HandleEvent(ctx, ev, true); err != nil {
		return fmt.Errorf("handle %s: %w", ev.Type, err)
	}
	if created {
		s.settle(r, func() { s.toDevice.Remove(ev.Sender, txn) })
	}
	return nil
}

// HandleRoomEvent routes a timeline event. live is false for events
// replayed from history.
func (s *Service) HandleRoomEvent(ctx context.Context, ev *verification.Event, live bool) error {
	typ := verification.RoomEventType(ev)
	if typ == "" {
		return nil
	}
	txn := verification.RoomTransactionID(ev)
	if txn == "" {
		return nil
	}

	r := s.rooms.Get(ev.RoomID, txn)
	created := false
	if r == nil {
		if typ != verification.EventRequest {
			s.log.Debug("ignoring event for unknown transaction", "type", typ, "txn", txn, "room", ev.RoomID)
			return nil
		}
		if s.cfg.Room == nil {
			return ErrNoTransport
		}
		room := ev.RoomID
		ch := verification.NewRoomChannel(s.cfg.Room, s.cfg.Own, room, "", txn)
		r = s.newRequest(ch, func() { s.rooms.Remove(room, txn) })
		s.rooms.Set(room, txn, r)
		created = true
	}

	if err := r.Channel().HandleEvent(ctx, ev, live); err != nil {
		return fmt.Errorf("handle %s: %w", typ, err)
	}
	if created {
		s.settle(r, func() { s.rooms.Remove(ev.RoomID, txn) })
	}
	return nil
}

// RequestVerification sends a to-device request to user. With no devices
// given, every device of user is asked, except our own. An equivalent
// request already in progress is returned instead of sending a new one.
func (s *Service) RequestVerification(
	ctx context.Context,
	user domain.UserID,
	devices []domain.DeviceID,
) (*verification.Request, error) {
	if s.cfg.ToDevice == nil {
		return nil, ErrNoTransport
	}
	if len(devices) == 0 && s.cfg.Devices != nil {
		listed, err := s.cfg.Devices.UserDevices(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("list devices of %s: %w", user, err)
		}
		devices = listed
	}
	if user == s.cfg.Own.UserID {
		devices = slices.DeleteFunc(slices.Clone(devices), func(d domain.DeviceID) bool {
			return d == s.cfg.Own.DeviceID
		})
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	if r := s.toDevice.FindRequestInProgress(user, devices); r != nil {
		return r, nil
	}
	ch := verification.NewToDeviceChannel(s.cfg.ToDevice, s.cfg.Own, user, devices, "")
	r := s.newRequest(ch, func() { s.toDevice.Remove(user, ch.TransactionID()) })
	if err := r.SendRequest(ctx); err != nil {
		return nil, err
	}
	s.toDevice.SetByRequest(r)
	s.log.Info("verification requested", "other", user, "txn", ch.TransactionID(), "devices", len(devices))
	return r, nil
}

// RequestVerificationInRoom sends a request to user through room.
func (s *Service) RequestVerificationInRoom(
	ctx context.Context,
	room domain.RoomID,
	user domain.UserID,
) (*verification.Request, error) {
	if s.cfg.Room == nil {
		return nil, ErrNoTransport
	}
	if r := s.rooms.FindRequestInProgress(room); r != nil && r.Channel().UserID() == user {
		return r, nil
	}
	ch := verification.NewRoomChannel(s.cfg.Room, s.cfg.Own, room, user, "")
	r := s.newRequest(ch, func() { s.rooms.Remove(room, ch.TransactionID()) })
	if err := r.SendRequest(ctx); err != nil {
		return nil, err
	}
	s.rooms.SetByRequest(r)
	s.log.Info("verification requested", "other", user, "room", room, "txn", ch.TransactionID())
	return r, nil
}

// ToDeviceRequest returns the to-device request with user under txn.
func (s *Service) ToDeviceRequest(user domain.UserID, txn string) *verification.Request {
	return s.toDevice.Get(user, txn)
}

// RoomRequest returns the timeline request in room under txn.
func (s *Service) RoomRequest(room domain.RoomID, txn string) *verification.Request {
	return s.rooms.Get(room, txn)
}

// FindToDeviceRequestInProgress returns a pending request to exactly
// devices of user.
func (s *Service) FindToDeviceRequestInProgress(user domain.UserID, devices []domain.DeviceID) *verification.Request {
	return s.toDevice.FindRequestInProgress(user, devices)
}

// FindRoomRequestInProgress returns the pending request in room.
func (s *Service) FindRoomRequestInProgress(room domain.RoomID) *verification.Request {
	return s.rooms.FindRequestInProgress(room)
}

// RequestsInProgress returns every pending to-device request with user.
func (s *Service) RequestsInProgress(user domain.UserID) []*verification.Request {
	return s.toDevice.RequestsInProgress(user)
}

func (s *Service) newRequest(ch verification.Channel, remove func()) *verification.Request {
	r := verification.NewRequest(ch, verification.Options{
		Own:     s.cfg.Own,
		Methods: s.cfg.Methods,
		Timeout: s.cfg.Timeout,
		Logger:  s.log,
	})
	var once sync.Once
	r.OnChange(func(r *verification.Request) {
		if r.Phase().Terminal() {
			once.Do(func() {
				s.log.Debug("forgetting finished request", "txn", r.Channel().TransactionID(), "outcome", r.Outcome())
				remove()
			})
		}
	})
	return r
}

// settle runs after the first event of an inbound request: requests that
// never left Unsent are dropped, actionable ones are announced.
func (s *Service) settle(r *verification.Request, remove func()) {
	if r.Phase() == verification.PhaseUnsent {
		remove()
		return
	}
	if !r.Pending() {
		return
	}
	s.mu.Lock()
	fns := slices.Clone(s.onRequest)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}
