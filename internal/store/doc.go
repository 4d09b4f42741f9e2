// Package store provides file-based persistence for devtrust.
//
// IdentityFileStore keeps the device identity sealed under a passphrase
// (scrypt + ChaCha20-Poly1305). TrustFileStore keeps the signing keys this
// device confirmed through interactive verification as plain JSON, since
// they are public. Writes go through a temp file and rename, and every store
// serialises access with its own mutex. Files live under the configured home
// directory.
package store
