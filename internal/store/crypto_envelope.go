package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"devtrust/internal/crypto"
	"devtrust/internal/util/memzero"
)

// sealedVersion is the newest sealed file layout this package writes.
const sealedVersion = 2

// ErrWrongPassphrase is returned when a sealed file does not open, either
// because the passphrase is wrong or the file was altered.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted file")

// kdfParams are the scrypt cost parameters recorded next to the ciphertext.
type kdfParams struct {
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`
}

func defaultKDF() kdfParams { return kdfParams{N: 1 << 15, R: 8, P: 1} }

// sealed is the on-disk layout of a passphrase protected file. The label is
// bound as associated data so a blob cannot be swapped between files.
type sealed struct {
	V      int       `json:"v"`
	Label  string    `json:"label"`
	KDF    kdfParams `json:"kdf"`
	Salt   []byte    `json:"salt"`
	Nonce  []byte    `json:"nonce"`
	Cipher []byte    `json:"cipher"`
}

func seal(passphrase, label string, plaintext []byte, kdf kdfParams) ([]byte, error) {
	salt, err := crypto.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.RandomBytes(chacha20poly1305.NonceSize)
	if err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, kdf.N, kdf.R, kdf.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	s := sealed{
		V:     sealedVersion,
		Label: label,
		KDF:   kdf,
		Salt:  salt,
		Nonce: nonce,
	}
	s.Cipher = aead.Seal(nil, nonce, plaintext, s.ad())
	return json.Marshal(s)
}

func open(passphrase, label string, b []byte) ([]byte, error) {
	var s sealed
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("store: decode sealed file: %w", err)
	}
	if s.V != sealedVersion {
		return nil, fmt.Errorf("store: unsupported sealed file version %d", s.V)
	}
	if s.Label != label || len(s.Nonce) != chacha20poly1305.NonceSize {
		return nil, ErrWrongPassphrase
	}
	key, err := scrypt.Key([]byte(passphrase), s.Salt, s.KDF.N, s.KDF.R, s.KDF.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, s.Nonce, s.Cipher, s.ad())
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func (s sealed) ad() []byte {
	return fmt.Appendf(nil, "devtrust/v%d/%s", s.V, s.Label)
}
