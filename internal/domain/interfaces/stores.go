package interfaces

import domaintypes "devtrust/internal/domain/types"

// IdentityStore persists the local device identity.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
}

// TrustStore persists keys confirmed by an interactive verification.
type TrustStore interface {
	MarkVerified(key domaintypes.TrustedKey) error
	TrustedKeys(user domaintypes.UserID) ([]domaintypes.TrustedKey, error)
	IsVerified(user domaintypes.UserID, key domaintypes.Ed25519Public) (bool, error)
}
