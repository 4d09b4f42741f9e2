package ecies

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
	"devtrust/internal/util/memzero"
)

const (
	aeadKeySize   = chacha20poly1305.KeySize
	nonceSize     = chacha20poly1305.NonceSize
	checkCodeSize = 2

	infoPrefix = "MATRIX_QR_CODE_LOGIN|"
)

var (
	// ErrAlreadyEstablished is returned when a key pair is used for a second handshake.
	ErrAlreadyEstablished = errors.New("ecies: key pair already used")
	// ErrMalformedMessage is returned when an initial message cannot be split or decoded.
	ErrMalformedMessage = errors.New("ecies: malformed message")
	// ErrDecrypt is returned when a ciphertext fails authentication.
	ErrDecrypt = errors.New("ecies: decryption failed")
)

// Ecies holds one ephemeral key pair. It can establish exactly one session.
type Ecies struct {
	mu   sync.Mutex
	priv domain.X25519Private
	pub  domain.X25519Public
	used bool
}

// New generates a fresh ephemeral key pair.
func New() (*Ecies, error) {
	priv, pub, err := crypto.GenerateX25519()
	if err != nil {
		return nil, err
	}
	return &Ecies{priv: priv, pub: pub}, nil
}

// PublicKey returns the ephemeral public key to advertise.
func (e *Ecies) PublicKey() domain.X25519Public { return e.pub }

// EstablishOutbound derives a session towards their key and seals
// plaintext as the initial message.
func (e *Ecies) EstablishOutbound(their domain.X25519Public, plaintext []byte) (*Established, []byte, error) {
	if err := e.take(); err != nil {
		return nil, nil, err
	}
	s, err := derive(e.priv, their, e.pub, their, true)
	memzero.Zero(e.priv[:])
	if err != nil {
		return nil, nil, err
	}
	ct, err := s.seal(plaintext)
	if err != nil {
		return nil, nil, err
	}
	msg := base64.RawStdEncoding.EncodeToString(ct) + "|" + base64.RawStdEncoding.EncodeToString(e.pub[:])
	return s, []byte(msg), nil
}

// EstablishInbound opens an initial message produced by EstablishOutbound
// against our public key and returns the session plus the plaintext.
func (e *Ecies) EstablishInbound(message []byte) (*Established, []byte, error) {
	ctPart, keyPart, ok := strings.Cut(string(message), "|")
	if !ok {
		return nil, nil, ErrMalformedMessage
	}
	ct, err := crypto.UnB64(ctPart)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ciphertext: %v", ErrMalformedMessage, err)
	}
	kb, err := crypto.UnB64(keyPart)
	if err != nil || len(kb) != 32 {
		return nil, nil, fmt.Errorf("%w: public key", ErrMalformedMessage)
	}
	var their domain.X25519Public
	copy(their[:], kb)

	if err := e.take(); err != nil {
		return nil, nil, err
	}
	s, err := derive(e.priv, their, their, e.pub, false)
	memzero.Zero(e.priv[:])
	if err != nil {
		return nil, nil, err
	}
	pt, err := s.open(ct)
	if err != nil {
		return nil, nil, err
	}
	return s, pt, nil
}

func (e *Ecies) take() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.used {
		return ErrAlreadyEstablished
	}
	e.used = true
	return nil
}

// CheckCode is the short value both sides derive from the shared secret.
type CheckCode [checkCodeSize]byte

// Digits renders the check code as two decimal digits.
func (c CheckCode) Digits() string { return fmt.Sprintf("%d%d", c[0]%10, c[1]%10) }

// Established is a bidirectional session produced by a completed handshake.
type Established struct {
	mu      sync.Mutex
	sendKey []byte
	recvKey []byte
	sendN   uint32
	recvN   uint32
	check   CheckCode
}

// Encrypt seals plaintext and returns it base64 encoded.
func (s *Established) Encrypt(plaintext []byte) ([]byte, error) {
	ct, err := s.seal(plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(base64.RawStdEncoding.EncodeToString(ct)), nil
}

// Decrypt opens a base64 message produced by the peer's Encrypt.
func (s *Established) Decrypt(message []byte) ([]byte, error) {
	ct, err := crypto.UnB64(string(message))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return s.open(ct)
}

// CheckCode returns the check code for this session.
func (s *Established) CheckCode() CheckCode { return s.check }

func (s *Established) seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aead, err := chacha20poly1305.New(s.sendKey)
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, counterNonce(s.sendN), plaintext, nil)
	s.sendN++
	return ct, nil
}

func (s *Established) open(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	aead, err := chacha20poly1305.New(s.recvKey)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, counterNonce(s.recvN), ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	s.recvN++
	return pt, nil
}

// derive runs HKDF over DH(priv, peer). initiator/recipient fix the info
// ordering; outbound selects which directional key is ours to send with.
func derive(priv domain.X25519Private, peer, initiator, recipient domain.X25519Public, outbound bool) (*Established, error) {
	shared, err := crypto.DH(priv, peer)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(shared[:])

	info := infoPrefix + crypto.B64(initiator[:]) + "|" + crypto.B64(recipient[:])
	r := hkdf.New(sha256.New, shared[:], nil, []byte(info))
	toRecipient := make([]byte, aeadKeySize)
	toInitiator := make([]byte, aeadKeySize)
	var check CheckCode
	_, _ = io.ReadFull(r, toRecipient)
	_, _ = io.ReadFull(r, toInitiator)
	_, _ = io.ReadFull(r, check[:])

	s := &Established{check: check}
	if outbound {
		s.sendKey, s.recvKey = toRecipient, toInitiator
	} else {
		s.sendKey, s.recvKey = toInitiator, toRecipient
	}
	return s, nil
}

func counterNonce(n uint32) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], n)
	return nonce
}
