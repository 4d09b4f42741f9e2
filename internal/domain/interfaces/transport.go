package interfaces

import (
	"context"

	domaintypes "devtrust/internal/domain/types"
)

// ToDeviceSender delivers device-targeted events. Delivery is fire and
// forget: a nil error only means the home server accepted the batch.
type ToDeviceSender interface {
	SendToDevice(
		ctx context.Context,
		eventType string,
		messages map[domaintypes.UserID]map[domaintypes.DeviceID]map[string]any,
	) error
}

// RoomSender posts an event into a room timeline and returns the id the
// server assigned to it.
type RoomSender interface {
	SendEvent(
		ctx context.Context,
		room domaintypes.RoomID,
		eventType string,
		content map[string]any,
	) (domaintypes.EventID, error)
}

// DeviceLister resolves the devices currently signed in for a user.
type DeviceLister interface {
	UserDevices(ctx context.Context, user domaintypes.UserID) ([]domaintypes.DeviceID, error)
}
