package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"devtrust/internal/domain"
	verifysvc "devtrust/internal/services/verification"
	"devtrust/internal/verification"
)

// ErrNotConfirmed is returned when the showing user did not confirm the
// other device's scan.
var ErrNotConfirmed = errors.New("loopback: scan not confirmed")

// Party is one device taking part in a scenario.
type Party struct {
	Device domain.Device
	Key    domain.Ed25519Public
	Trust  domain.TrustStore
}

// Transition is one observed phase change.
type Transition struct {
	Device  domain.Device
	Phase   verification.Phase
	Outcome verification.Outcome
	Method  string
	At      time.Duration
}

// Scenario runs a QR code verification between two devices: Shower
// requests, Scanner accepts and scans the code Shower displays.
type Scenario struct {
	Shower, Scanner Party
	// Room sends the request through a room timeline instead of to-device
	// messages.
	Room    domain.RoomID
	Timeout time.Duration
	Logger  *slog.Logger
	// Confirm asks the showing user whether the other device reported a
	// successful scan. Nil confirms.
	Confirm func(ctx context.Context) bool
}

type recorder struct {
	mu    sync.Mutex
	start time.Time
	rows  []Transition
	last  map[domain.Device]verification.Phase
}

func (rec *recorder) watch(dev domain.Device, r *verification.Request) {
	rec.observe(dev, r)
	r.OnChange(func(r *verification.Request) { rec.observe(dev, r) })
}

func (rec *recorder) observe(dev domain.Device, r *verification.Request) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	phase := r.Phase()
	if last, ok := rec.last[dev]; ok && last == phase {
		return
	}
	rec.last[dev] = phase
	rec.rows = append(rec.rows, Transition{
		Device:  dev,
		Phase:   phase,
		Outcome: r.Outcome(),
		Method:  r.ChosenMethod(),
		At:      time.Since(rec.start),
	})
}

func (rec *recorder) transitions() []Transition {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]Transition(nil), rec.rows...)
}

// Run plays the scenario and returns every phase change both devices saw,
// in order. The transitions are returned even when Run fails.
func (s Scenario) Run(ctx context.Context) ([]Transition, error) {
	hub := NewHub()
	rec := &recorder{start: time.Now(), last: make(map[domain.Device]verification.Phase)}

	shower := s.service(hub, s.Shower)
	scanner := s.service(hub, s.Scanner)
	incoming := make(chan *verification.Request, 1)
	scanner.OnRequest(func(r *verification.Request) {
		select {
		case incoming <- r:
		default:
		}
	})

	var (
		sReq *verification.Request
		err  error
	)
	if s.Room != "" {
		sReq, err = shower.RequestVerificationInRoom(ctx, s.Room, s.Scanner.Device.UserID)
	} else {
		sReq, err = shower.RequestVerification(ctx, s.Scanner.Device.UserID, []domain.DeviceID{s.Scanner.Device.DeviceID})
	}
	if err != nil {
		return nil, fmt.Errorf("request verification: %w", err)
	}
	rec.watch(s.Shower.Device, sReq)
	if err := hub.Flush(ctx); err != nil {
		return rec.transitions(), err
	}

	var cReq *verification.Request
	select {
	case cReq = <-incoming:
	default:
		return rec.transitions(), errors.New("loopback: request never reached the other device")
	}
	rec.watch(s.Scanner.Device, cReq)
	if err := cReq.Accept(ctx); err != nil {
		return rec.transitions(), fmt.Errorf("accept: %w", err)
	}
	if err := hub.Flush(ctx); err != nil {
		return rec.transitions(), err
	}

	if err := s.scan(ctx, sReq, cReq); err != nil {
		return rec.transitions(), err
	}
	if err := hub.Flush(ctx); err != nil {
		return rec.transitions(), err
	}

	shown, ok := sReq.Verifier().(*verification.Reciprocate)
	if !ok {
		return rec.transitions(), fmt.Errorf("loopback: showing device runs %T", sReq.Verifier())
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return shown.Verify(gctx) })
	g.Go(func() error {
		if s.Confirm == nil || s.Confirm(gctx) {
			shown.Confirm()
			return nil
		}
		if err := sReq.Cancel(gctx, verification.CodeUser, "scan not confirmed"); err != nil {
			return err
		}
		return ErrNotConfirmed
	})
	if err := g.Wait(); err != nil {
		_ = hub.Flush(ctx)
		return rec.transitions(), err
	}
	if err := hub.Flush(ctx); err != nil {
		return rec.transitions(), err
	}

	if sReq.Phase() != verification.PhaseDone || cReq.Phase() != verification.PhaseDone {
		return rec.transitions(), fmt.Errorf("loopback: verification ended %s / %s", sReq.Outcome(), cReq.Outcome())
	}
	return rec.transitions(), nil
}

// scan has the scanning device read the code shown by the other one and
// confirm it.
func (s Scenario) scan(ctx context.Context, shower, scanner *verification.Request) error {
	q, err := shower.GenerateQRCode(verification.ModeVerifyOtherUser, s.Shower.Key, s.Scanner.Key)
	if err != nil {
		return fmt.Errorf("generate QR code: %w", err)
	}
	raw, err := q.Encode()
	if err != nil {
		return err
	}
	scanned, err := verification.ParseQRCode(raw)
	if err != nil {
		return fmt.Errorf("scan QR code: %w", err)
	}
	v, err := scanner.BeginKeyVerification(verification.MethodReciprocate, "")
	if err != nil {
		return fmt.Errorf("begin verification: %w", err)
	}
	rv, ok := v.(*verification.Reciprocate)
	if !ok {
		return fmt.Errorf("loopback: scanning device runs %T", v)
	}
	rv.SetScannedCode(scanned)
	return rv.Verify(ctx)
}

func (s Scenario) service(hub *Hub, p Party) *verifysvc.Service {
	ep := hub.Endpoint(p.Device)
	svc := verifysvc.New(verifysvc.Config{
		Own:      p.Device,
		ToDevice: ep,
		Room:     ep,
		Devices:  ep,
		Methods:  verification.DefaultMethods(p.Trust, p.Key),
		Timeout:  s.Timeout,
		Logger:   s.Logger,
	})
	hub.Attach(p.Device, svc)
	return svc
}
