package loopback

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"devtrust/internal/domain"
	"devtrust/internal/verification"
)

// maxRounds bounds Flush when handlers keep answering each other.
const maxRounds = 64

// ErrNotQuiet is returned by Flush when traffic did not settle.
var ErrNotQuiet = errors.New("loopback: traffic did not settle")

// Handler consumes verification events for one device.
type Handler interface {
	HandleToDeviceEvent(ctx context.Context, ev *verification.Event) error
	HandleRoomEvent(ctx context.Context, ev *verification.Event, live bool) error
}

type envelope struct {
	to domain.Device
	ev *verification.Event
}

// Hub connects devices in memory.
type Hub struct {
	mu       sync.Mutex
	handlers map[domain.Device]Handler
	order    []domain.Device
	devices  map[domain.UserID][]domain.DeviceID
	queue    []envelope
	timeline []*verification.Event
	nextID   int
	trace    func(from domain.Device, ev *verification.Event)
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		handlers: make(map[domain.Device]Handler),
		devices:  make(map[domain.UserID][]domain.DeviceID),
	}
}

// Trace registers fn to see every event when it is sent.
func (h *Hub) Trace(fn func(from domain.Device, ev *verification.Event)) {
	h.mu.Lock()
	h.trace = fn
	h.mu.Unlock()
}

// Attach makes dev reachable and routes its traffic to handler.
func (h *Hub) Attach(dev domain.Device, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.handlers[dev]; !ok {
		h.order = append(h.order, dev)
		h.devices[dev.UserID] = append(h.devices[dev.UserID], dev.DeviceID)
	}
	h.handlers[dev] = handler
}

// Endpoint returns dev's view of the hub.
func (h *Hub) Endpoint(dev domain.Device) *Endpoint { return &Endpoint{hub: h, own: dev} }

// Flush delivers queued traffic, including anything sent while delivering,
// until nothing is left.
func (h *Hub) Flush(ctx context.Context) error {
	for range maxRounds {
		h.mu.Lock()
		queue, timeline := h.queue, h.timeline
		h.queue, h.timeline = nil, nil
		order := slices.Clone(h.order)
		handlers := maps.Clone(h.handlers)
		h.mu.Unlock()

		if len(queue) == 0 && len(timeline) == 0 {
			return nil
		}
		for _, env := range queue {
			hd := handlers[env.to]
			if hd == nil {
				continue
			}
			if err := hd.HandleToDeviceEvent(ctx, env.ev); err != nil {
				return fmt.Errorf("deliver %s to %s: %w", env.ev.Type, env.to, err)
			}
		}
		for _, ev := range timeline {
			for _, dev := range order {
				cp := *ev
				cp.Content = ev.Content.Clone()
				if err := handlers[dev].HandleRoomEvent(ctx, &cp, true); err != nil {
					return fmt.Errorf("deliver %s to %s: %w", ev.Type, dev, err)
				}
			}
		}
	}
	return ErrNotQuiet
}

func (h *Hub) traceLocked(from domain.Device, ev *verification.Event) {
	if h.trace != nil {
		h.trace(from, ev)
	}
}

// Endpoint is one device's connection to a Hub.
type Endpoint struct {
	hub *Hub
	own domain.Device
}

var (
	_ domain.ToDeviceSender = (*Endpoint)(nil)
	_ domain.RoomSender     = (*Endpoint)(nil)
	_ domain.DeviceLister   = (*Endpoint)(nil)
)

func (e *Endpoint) SendToDevice(
	_ context.Context,
	eventType string,
	msgs map[domain.UserID]map[domain.DeviceID]map[string]any,
) error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	for user, devices := range msgs {
		for device, content := range devices {
			ev := &verification.Event{
				Type:      verification.EventType(eventType),
				Sender:    e.own.UserID,
				Timestamp: time.Now(),
				Content:   verification.Content(content).Clone(),
			}
			h.queue = append(h.queue, envelope{to: domain.Device{UserID: user, DeviceID: device}, ev: ev})
			h.traceLocked(e.own, ev)
		}
	}
	return nil
}

func (e *Endpoint) SendEvent(
	_ context.Context,
	room domain.RoomID,
	eventType string,
	content map[string]any,
) (domain.EventID, error) {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ev := &verification.Event{
		Type:      verification.EventType(eventType),
		Sender:    e.own.UserID,
		RoomID:    room,
		EventID:   domain.EventID(fmt.Sprintf("$loop%d", h.nextID)),
		Timestamp: time.Now(),
		Content:   verification.Content(content).Clone(),
	}
	h.timeline = append(h.timeline, ev)
	h.traceLocked(e.own, ev)
	return ev.EventID, nil
}

func (e *Endpoint) UserDevices(_ context.Context, user domain.UserID) ([]domain.DeviceID, error) {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	return slices.Clone(e.hub.devices[user]), nil
}
