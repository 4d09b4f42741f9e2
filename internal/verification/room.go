package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"devtrust/internal/domain"
)

// RoomChannel exchanges events through a room timeline. The request event's
// id is the transaction id and any device of the other user may answer.
type RoomChannel struct {
	sender domain.RoomSender
	own    domain.Device
	roomID domain.RoomID

	mu      sync.Mutex
	userID  domain.UserID
	txnID   string
	seen    map[domain.EventID]bool
	request *Request
}

// NewRoomChannel returns a timeline channel in room. user may be empty for
// inbound requests; it is adopted from the request event.
func NewRoomChannel(sender domain.RoomSender, own domain.Device, room domain.RoomID, user domain.UserID, txnID string) *RoomChannel {
	return &RoomChannel{
		sender: sender,
		own:    own,
		roomID: room,
		userID: user,
		txnID:  txnID,
		seen:   make(map[domain.EventID]bool),
	}
}

// RoomEventType maps a timeline event to its symbolic type, or "" when the
// event is not part of a verification.
func RoomEventType(ev *Event) EventType {
	if string(ev.Type) == RoomMessageType {
		if ev.Content != nil && ev.Content.String(keyMsgType) == string(EventRequest) {
			return EventRequest
		}
		return ""
	}
	if ev.Type == EventRequest || !IsVerificationType(ev.Type) {
		return ""
	}
	return ev.Type
}

// RoomTransactionID returns the request event id a timeline event belongs to.
func RoomTransactionID(ev *Event) string {
	if RoomEventType(ev) == EventRequest {
		return string(ev.EventID)
	}
	if rel := relationOf(ev); rel != nil && rel.RelType == RelReference {
		return string(rel.EventID)
	}
	return ""
}

func relationOf(ev *Event) *Relation {
	if ev.RelatesTo != nil {
		return ev.RelatesTo
	}
	switch v := ev.Content[keyRelatesTo].(type) {
	case *Relation:
		return v
	case Relation:
		return &v
	case map[string]any:
		rt, _ := v["rel_type"].(string)
		id, _ := v["event_id"].(string)
		return &Relation{RelType: rt, EventID: domain.EventID(id)}
	}
	return nil
}

// otherParty returns the user on the other end of a request event seen by
// own, or "" when own is neither sender nor recipient.
func otherParty(ev *Event, own domain.UserID) domain.UserID {
	to := domain.UserID(ev.Content.String(keyTo))
	switch {
	case ev.Sender == own:
		return to
	case to == own:
		return ev.Sender
	}
	return ""
}

// ValidateRoomEvent reports whether ev is structurally acceptable for a
// timeline channel seen by own.
func ValidateRoomEvent(ev *Event, own domain.UserID) bool {
	if ev == nil || ev.Cancelled || ev.Redacted || ev.Content == nil {
		return false
	}
	if RoomTransactionID(ev) == "" {
		return false
	}
	typ := RoomEventType(ev)
	if typ == EventRequest {
		if ev.Content.String(keyTo) == "" || otherParty(ev, own) == "" {
			return false
		}
	}
	return validateCommon(typ, ev.Content)
}

func (c *RoomChannel) RoomID() domain.RoomID     { return c.roomID }
func (c *RoomChannel) DeviceID() domain.DeviceID { return "" }

func (c *RoomChannel) UserID() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *RoomChannel) TransactionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txnID
}

func (c *RoomChannel) bind(r *Request) {
	c.mu.Lock()
	c.request = r
	c.mu.Unlock()
}

func (c *RoomChannel) canStartWithoutRequest() bool { return false }

func (c *RoomChannel) requestTimestamp(ev *Event) (time.Time, bool) {
	return ev.Timestamp, !ev.Timestamp.IsZero()
}

// HandleEvent validates ev, re-attaches its cleartext relation, drops
// duplicates of our own local echoes, and forwards it.
func (c *RoomChannel) HandleEvent(ctx context.Context, ev *Event, live bool) error {
	r := c.request
	typ := RoomEventType(ev)
	if typ == "" {
		return nil
	}
	if !ValidateRoomEvent(ev, c.own.UserID) {
		r.log.Debug("dropping invalid room verification event", "type", ev.Type, "sender", ev.Sender, "room", c.roomID)
		return nil
	}
	txn := RoomTransactionID(ev)

	c.mu.Lock()
	if c.userID != "" && ev.Sender != c.own.UserID && ev.Sender != c.userID {
		c.mu.Unlock()
		r.log.Info("ignoring verification event from non-participating sender", "sender", ev.Sender, "room", c.roomID)
		return nil
	}
	if typ == EventRequest && c.userID == "" {
		c.userID = otherParty(ev, c.own.UserID)
	}
	if c.txnID == "" {
		c.txnID = txn
	} else if c.txnID != txn {
		c.mu.Unlock()
		return nil
	}
	if ev.EventID != "" {
		if c.seen[ev.EventID] {
			c.mu.Unlock()
			r.log.Debug("dropping duplicate of local echo", "event", ev.EventID)
			return nil
		}
		c.seen[ev.EventID] = true
	}
	c.mu.Unlock()

	norm := *ev
	norm.Type = typ
	if ev.RelatesTo != nil {
		norm.Content = ev.Content.Clone()
		norm.Content[keyRelatesTo] = map[string]any{
			"rel_type": ev.RelatesTo.RelType,
			"event_id": string(ev.RelatesTo.EventID),
		}
	}

	byUs := ev.Sender == c.own.UserID
	from := norm.fromDevice()
	onlooker := byUs && !ev.LocalEcho && from != "" && from != c.own.DeviceID
	r.handleEvent(ctx, &norm, delivery{live: live, echo: ev.LocalEcho, byUs: byUs, onlooker: onlooker})
	return nil
}

// CompleteContent adds our device id for request/ready/start, shapes a
// request as a room message addressed to the other user, and relates every
// other event to the request.
func (c *RoomChannel) CompleteContent(typ EventType, content Content) Content {
	out := content.Clone()
	if typ == EventRequest || typ == EventReady || typ == EventStart {
		out[keyFromDevice] = string(c.own.DeviceID)
	}
	if typ == EventRequest {
		return Content{
			"body": fmt.Sprintf("%s is requesting to verify your key, but your client does not "+
				"support in-chat key verification.", c.own.UserID),
			keyMsgType:    string(EventRequest),
			keyTo:         string(c.UserID()),
			keyFromDevice: out[keyFromDevice],
			keyMethods:    out[keyMethods],
		}
	}
	out[keyRelatesTo] = map[string]any{
		"rel_type": RelReference,
		"event_id": c.TransactionID(),
	}
	return out
}

// Send posts content to the room and records a local echo carrying the
// server-assigned event id. The copy that later arrives through sync is
// recognised by that id and dropped.
func (c *RoomChannel) Send(ctx context.Context, typ EventType, content Content) error {
	if typ != EventRequest && c.TransactionID() == "" {
		return ErrNoTransaction
	}
	content = c.CompleteContent(typ, content)
	wireType := string(typ)
	if typ == EventRequest {
		wireType = RoomMessageType
	}
	id, err := c.sender.SendEvent(ctx, c.roomID, wireType, content)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, c.roomID, err)
	}

	c.mu.Lock()
	if typ == EventRequest && c.txnID == "" {
		c.txnID = string(id)
	}
	c.seen[id] = true
	c.mu.Unlock()

	echo := &Event{
		Type:      typ,
		Sender:    c.own.UserID,
		RoomID:    c.roomID,
		EventID:   id,
		Timestamp: time.Now(),
		Content:   content,
		LocalEcho: true,
	}
	c.request.handleEvent(ctx, echo, delivery{live: true, echo: true, byUs: true})
	return nil
}

var _ Channel = (*RoomChannel)(nil)
