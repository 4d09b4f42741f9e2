// Package rendezvous bootstraps a new device through an untrusted relay.
//
// One side generates a Code (as JSON or as QR bytes) carrying an ephemeral
// X25519 public key and the relay locator. The other side builds a channel
// from that code, opens an ECIES session towards the key and sends a fixed
// initiation literal; the generating side answers with a fixed
// acknowledgement literal under the new session. From then on SecureSend and
// SecureReceive exchange JSON payloads, authenticated and encrypted end to
// end. The relay only ever carries ciphertext.
//
// A SecureChannel performs exactly one handshake. Every failure other than
// KindNoResponse is final: a fresh channel and a fresh code are needed to
// try again.
package rendezvous
