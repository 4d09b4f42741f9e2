package verification

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"devtrust/internal/domain"
)

// EventType is the symbolic type of a verification event.
type EventType string

const (
	EventRequest EventType = "m.key.verification.request"
	EventReady   EventType = "m.key.verification.ready"
	EventStart   EventType = "m.key.verification.start"
	EventCancel  EventType = "m.key.verification.cancel"
	EventDone    EventType = "m.key.verification.done"

	eventPrefix = "m.key.verification."

	// RoomMessageType carries verification requests in a room timeline.
	RoomMessageType = "m.room.message"
	// RelReference is the relation type linking follow-up room events to
	// their request.
	RelReference = "m.reference"
)

// Well-known content keys.
const (
	keyTxnID      = "transaction_id"
	keyFromDevice = "from_device"
	keyMethods    = "methods"
	keyMethod     = "method"
	keyTimestamp  = "timestamp"
	keyCode       = "code"
	keyReason     = "reason"
	keyRelatesTo  = "m.relates_to"
	keyMsgType    = "msgtype"
	keyTo         = "to"
	keySecret     = "secret"
)

// IsVerificationType reports whether t names a verification event.
func IsVerificationType(t EventType) bool {
	return strings.HasPrefix(string(t), eventPrefix)
}

// Content is the decoded JSON body of an event.
type Content map[string]any

// String returns the string at key, or "" when absent or not a string.
func (c Content) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Strings returns the string list at key. ok is false when the value is
// not a list or holds a non-string.
func (c Content) Strings(key string) (out []string, ok bool) {
	switch v := c[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out = make([]string, 0, len(v))
		for _, e := range v {
			s, isStr := e.(string)
			if !isStr {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// Int64 returns the integral number at key. Decoded JSON numbers arrive as
// float64 and are accepted when finite.
func (c Content) Int64(key string) (int64, bool) {
	switch v := c[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of c.
func (c Content) Clone() Content {
	out := make(Content, len(c)+2)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Canonical returns a deterministic serialisation used to order start
// events. encoding/json sorts map keys.
func (c Content) Canonical() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

// Relation is a cleartext m.relates_to reference that travels outside any
// payload encryption.
type Relation struct {
	RelType string         `json:"rel_type"`
	EventID domain.EventID `json:"event_id"`
}

// Event is one verification event as delivered by (or echoed to) a channel.
type Event struct {
	Type      EventType
	Sender    domain.UserID
	RoomID    domain.RoomID
	EventID   domain.EventID
	Timestamp time.Time
	Content   Content
	// RelatesTo is the relation found outside the encrypted payload, if any.
	RelatesTo *Relation
	Redacted  bool
	// Cancelled is set by the transport when the event failed to send or
	// was withdrawn.
	Cancelled bool
	LocalEcho bool
}

func (e *Event) fromDevice() domain.DeviceID {
	return domain.DeviceID(e.Content.String(keyFromDevice))
}

// validateCommon applies the checks shared by both channel kinds.
func validateCommon(typ EventType, content Content) bool {
	if !IsVerificationType(typ) || content == nil {
		return false
	}
	if typ == EventRequest || typ == EventReady {
		if _, ok := content.Strings(keyMethods); !ok {
			return false
		}
	}
	if typ == EventRequest || typ == EventReady || typ == EventStart {
		if content.String(keyFromDevice) == "" {
			return false
		}
	}
	return true
}
