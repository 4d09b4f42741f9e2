package types

// Identity holds the local device's long-term X25519 and Ed25519 keys.
type Identity struct {
	UserID   UserID         `json:"user_id"`
	DeviceID DeviceID       `json:"device_id"`
	XPub     X25519Public   `json:"xpub"`
	XPriv    X25519Private  `json:"xpriv"`
	EdPub    Ed25519Public  `json:"edpub"`
	EdPriv   Ed25519Private `json:"edpriv"`
}

// Device returns the address of the identity's device.
func (id Identity) Device() Device { return Device{UserID: id.UserID, DeviceID: id.DeviceID} }
