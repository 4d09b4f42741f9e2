// Package ecies implements the one-shot X25519 key agreement used to
// bootstrap a secure rendezvous channel between two devices that share no
// prior secret.
//
// The initiator knows the recipient's ephemeral public key (scanned from a
// QR code) and sends a single initial message carrying its own ephemeral
// public key next to the first ciphertext. Both sides derive, with
// HKDF-SHA256 over the X25519 shared secret:
//
//   - a 32-byte key for initiator → recipient traffic
//   - a 32-byte key for recipient → initiator traffic
//   - a 2-byte check code that users may compare out of band
//
// The HKDF info string binds both public keys in initiator/recipient order,
// so a message can never be opened under a context it was not produced for.
// Messages are sealed with ChaCha20-Poly1305 using an implicit per-direction
// counter as the nonce; there is no header and no rekeying.
//
// Concurrency: an Established session serialises its own counters and is
// safe for concurrent use, but messages must be decrypted in the order they
// were encrypted.
package ecies
