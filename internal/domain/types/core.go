package types

// UserID identifies an account on the home server, e.g. "@alice:example.org".
type UserID string

// String returns the string form of the user id.
func (u UserID) String() string { return string(u) }

// DeviceID identifies one signed-in device of a user.
type DeviceID string

// String returns the string form of the device id.
func (d DeviceID) String() string { return string(d) }

// RoomID identifies a shared timeline.
type RoomID string

// String returns the string form of the room id.
func (r RoomID) String() string { return string(r) }

// EventID is the server-assigned id of a timeline event.
type EventID string

// String returns the string form of the event id.
func (e EventID) String() string { return string(e) }

// Fingerprint is a short identifier for public keys presented to users.
type Fingerprint string

// String returns the string form of the fingerprint.
func (f Fingerprint) String() string { return string(f) }

// Device addresses a single device of a single user.
type Device struct {
	UserID   UserID   `json:"user_id"`
	DeviceID DeviceID `json:"device_id"`
}

// String renders the device as "user/device".
func (d Device) String() string { return string(d.UserID) + "/" + string(d.DeviceID) }
