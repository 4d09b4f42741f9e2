package domain

import (
	interfaces "devtrust/internal/domain/interfaces"
	types "devtrust/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	UserID         = types.UserID
	DeviceID       = types.DeviceID
	RoomID         = types.RoomID
	EventID        = types.EventID
	Device         = types.Device
	Fingerprint    = types.Fingerprint
	Identity       = types.Identity
	TrustedKey     = types.TrustedKey
	X25519Public   = types.X25519Public
	X25519Private  = types.X25519Private
	Ed25519Public  = types.Ed25519Public
	Ed25519Private = types.Ed25519Private
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService = interfaces.IdentityService
	IdentityStore   = interfaces.IdentityStore
	TrustStore      = interfaces.TrustStore
	ToDeviceSender  = interfaces.ToDeviceSender
	RoomSender      = interfaces.RoomSender
	DeviceLister    = interfaces.DeviceLister
)
