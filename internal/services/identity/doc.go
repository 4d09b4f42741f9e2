// Package identity manages creation, encryption and loading of the local
// device identity.
//
// It enforces the passphrase policy, generates the device's X25519 and
// Ed25519 key pairs, and persists them via the domain.IdentityStore. The
// Ed25519 key is what other devices confirm during QR verification, so its
// fingerprint is the one shown to users.
package identity
