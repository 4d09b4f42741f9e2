// Package crypto exposes the minimal primitives used by devtrust.
//
// Contents
//
//   - X25519 key generation, clamping and Diffie–Hellman (GenerateX25519, DH)
//   - Ed25519 key generation, signing and verification (GenerateEd25519,
//     SignEd25519, VerifyEd25519)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//   - Unpadded base64 helpers for keys on the wire (B64, UnB64)
//   - Random transaction ids and secrets (NewTxnID, RandomBytes)
//
// # Notes
//
// All key functions return fixed-size array types defined in internal/domain
// to avoid accidental reallocations. Callers should treat returned secrets as
// sensitive and wipe them with util/memzero when practical.
package crypto
