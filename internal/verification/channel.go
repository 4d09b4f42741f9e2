package verification

import (
	"context"
	"time"

	"devtrust/internal/domain"
)

// Channel carries the events of one request. The two implementations are
// ToDeviceChannel and RoomChannel; the interface is sealed.
//
// Channels validate inbound events before the request sees them, and feed
// every event they send back into the request as an echo once the
// transport accepted it, so the request's record of events sent by us
// matches what the other side receives.
type Channel interface {
	// UserID is the other party.
	UserID() domain.UserID
	// DeviceID is the other party's chosen device, if one was adopted.
	DeviceID() domain.DeviceID
	// RoomID is the room of a timeline channel, empty otherwise.
	RoomID() domain.RoomID
	TransactionID() string

	// HandleEvent validates an inbound event and forwards it to the bound
	// request. live is false for events replayed from history.
	HandleEvent(ctx context.Context, ev *Event, live bool) error
	// Send completes content, delivers it, and feeds the echo back.
	Send(ctx context.Context, typ EventType, content Content) error
	// CompleteContent adds the channel's addressing fields to content.
	CompleteContent(typ EventType, content Content) Content

	bind(r *Request)
	requestTimestamp(ev *Event) (time.Time, bool)
	canStartWithoutRequest() bool
}

// delivery describes how an event reached the request.
type delivery struct {
	live bool
	// echo marks our own sends fed back by the channel.
	echo bool
	byUs bool
	// onlooker marks events showing another of our devices is the
	// participant.
	onlooker bool
}
