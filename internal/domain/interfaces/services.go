package interfaces

import domaintypes "devtrust/internal/domain/types"

// IdentityService creates, retrieves, and inspects the device identity.
type IdentityService interface {
	GenerateIdentity(
		passphrase string,
		user domaintypes.UserID,
		device domaintypes.DeviceID,
	) (domaintypes.Identity, domaintypes.Fingerprint, error)
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
	FingerprintIdentity(passphrase string) (domaintypes.Fingerprint, error)
}
