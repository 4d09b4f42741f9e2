package verification

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
)

// ToDeviceChannel exchanges events directly with one or more devices of a
// user. The request starts out addressed to a candidate device set; the
// first device to answer is adopted and every other device is told to
// back off.
type ToDeviceChannel struct {
	sender  domain.ToDeviceSender
	own     domain.Device
	userID  domain.UserID
	devices []domain.DeviceID

	mu       sync.Mutex
	txnID    string
	deviceID domain.DeviceID
	request  *Request
}

// NewToDeviceChannel returns a channel to user's devices. txnID is empty
// for requests we are about to send and set for inbound ones.
func NewToDeviceChannel(
	sender domain.ToDeviceSender,
	own domain.Device,
	user domain.UserID,
	devices []domain.DeviceID,
	txnID string,
) *ToDeviceChannel {
	return &ToDeviceChannel{
		sender:  sender,
		own:     own,
		userID:  user,
		devices: slices.Clone(devices),
		txnID:   txnID,
	}
}

// ToDeviceTransactionID returns the transaction id carried by ev.
func ToDeviceTransactionID(ev *Event) string { return ev.Content.String(keyTxnID) }

// ValidateToDeviceEvent reports whether ev is structurally acceptable for a
// to-device channel owned by own.
func ValidateToDeviceEvent(ev *Event, own domain.Device) bool {
	if ev == nil || ev.Cancelled || ev.Redacted || ev.Content == nil {
		return false
	}
	if ToDeviceTransactionID(ev) == "" {
		return false
	}
	if ev.Type == EventRequest {
		if _, ok := ev.Content.Int64(keyTimestamp); !ok {
			return false
		}
		if ev.Sender == own.UserID && ev.fromDevice() == own.DeviceID {
			return false
		}
	}
	return validateCommon(ev.Type, ev.Content)
}

func (c *ToDeviceChannel) UserID() domain.UserID { return c.userID }
func (c *ToDeviceChannel) RoomID() domain.RoomID { return "" }

func (c *ToDeviceChannel) DeviceID() domain.DeviceID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

func (c *ToDeviceChannel) TransactionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnID
}

// Devices returns the candidate device set.
func (c *ToDeviceChannel) Devices() []domain.DeviceID { return slices.Clone(c.devices) }

// IsToDevices reports whether devices is exactly the candidate set,
// ignoring order.
func (c *ToDeviceChannel) IsToDevices(devices []domain.DeviceID) bool {
	if len(devices) != len(c.devices) {
		return false
	}
	a, b := slices.Clone(devices), slices.Clone(c.devices)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func (c *ToDeviceChannel) bind(r *Request) {
	c.mu.Lock()
	c.request = r
	c.mu.Unlock()
}

func (c *ToDeviceChannel) canStartWithoutRequest() bool { return true }

func (c *ToDeviceChannel) requestTimestamp(ev *Event) (time.Time, bool) {
	ms, ok := ev.Content.Int64(keyTimestamp)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// HandleEvent validates ev, resolves device adoption and forwards it.
func (c *ToDeviceChannel) HandleEvent(ctx context.Context, ev *Event, live bool) error {
	r := c.request
	if !ValidateToDeviceEvent(ev, c.own) {
		r.log.Debug("dropping invalid to-device verification event", "type", ev.Type, "sender", ev.Sender)
		return nil
	}
	txn := ToDeviceTransactionID(ev)

	c.mu.Lock()
	if c.txnID == "" {
		c.txnID = txn
	} else if c.txnID != txn {
		c.mu.Unlock()
		r.log.Debug("ignoring event for other transaction", "txn", txn, "want", c.txnID)
		return nil
	}
	if ev.Type == EventRequest || ev.Type == EventReady || ev.Type == EventStart {
		from := ev.fromDevice()
		if c.deviceID == "" && slices.Contains(c.devices, from) {
			c.deviceID = from
		}
		if c.deviceID == "" || c.deviceID != from {
			c.mu.Unlock()
			r.log.Info("rejecting event from non-chosen device", "txn", txn, "device", from)
			content := c.CompleteContent(EventCancel, ErrUnexpectedMessage.content())
			return c.sendTo(ctx, EventCancel, content, []domain.DeviceID{from})
		}
	}
	chosen := c.deviceID
	c.mu.Unlock()

	wasAccepted := r.accepted()
	r.handleEvent(ctx, ev, delivery{live: live})
	accepting := ev.Type == EventReady || ev.Type == EventStart
	if !accepting || wasAccepted || !r.accepted() || chosen == "" {
		return nil
	}

	var others []domain.DeviceID
	for _, d := range c.devices {
		if d != chosen && !(c.userID == c.own.UserID && d == c.own.DeviceID) {
			others = append(others, d)
		}
	}
	if len(others) == 0 {
		return nil
	}
	r.log.Debug("telling other devices the request was accepted", "txn", txn, "devices", len(others))
	return c.sendTo(ctx, EventCancel, c.CompleteContent(EventCancel, ErrAccepted.content()), others)
}

// CompleteContent adds the transaction id, our device id for
// request/ready/start, and a send timestamp for requests.
func (c *ToDeviceChannel) CompleteContent(typ EventType, content Content) Content {
	out := content.Clone()
	if typ == EventRequest || typ == EventReady || typ == EventStart {
		out[keyFromDevice] = string(c.own.DeviceID)
	}
	if typ == EventRequest {
		out[keyTimestamp] = time.Now().UnixMilli()
	}
	if txn := c.TransactionID(); txn != "" {
		out[keyTxnID] = txn
	}
	return out
}

// Send delivers content and feeds it back to the request as a remote echo,
// since the transport does not echo device-targeted messages.
func (c *ToDeviceChannel) Send(ctx context.Context, typ EventType, content Content) error {
	c.mu.Lock()
	if typ == EventRequest && c.txnID == "" {
		c.txnID = crypto.NewTxnID()
	}
	txn, chosen := c.txnID, c.deviceID
	c.mu.Unlock()
	if txn == "" {
		return ErrNoTransaction
	}

	content = c.CompleteContent(typ, content)
	targets := []domain.DeviceID{chosen}
	if typ == EventRequest || chosen == "" {
		targets = c.devices
	}
	if err := c.sendTo(ctx, typ, content, targets); err != nil {
		return err
	}

	echo := &Event{
		Type:      typ,
		Sender:    c.own.UserID,
		Timestamp: time.Now(),
		Content:   content,
	}
	c.request.handleEvent(ctx, echo, delivery{live: true, echo: true, byUs: true})
	return nil
}

func (c *ToDeviceChannel) sendTo(ctx context.Context, typ EventType, content Content, devices []domain.DeviceID) error {
	if len(devices) == 0 {
		return nil
	}
	msgs := make(map[domain.DeviceID]map[string]any, len(devices))
	for _, d := range devices {
		msgs[d] = content
	}
	err := c.sender.SendToDevice(ctx, string(typ), map[domain.UserID]map[domain.DeviceID]map[string]any{
		c.userID: msgs,
	})
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, c.userID, err)
	}
	return nil
}

var _ Channel = (*ToDeviceChannel)(nil)
