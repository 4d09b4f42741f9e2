package types

import "time"

// TrustedKey records a signing key that was confirmed through an
// interactive verification.
type TrustedKey struct {
	UserID     UserID        `json:"user_id"`
	DeviceID   DeviceID      `json:"device_id,omitempty"`
	Key        Ed25519Public `json:"key"`
	Method     string        `json:"method"`
	VerifiedAt time.Time     `json:"verified_at"`
}
