package identity

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
)

const (
	// minPassphraseLength defines the minimum number of characters required for a passphrase.
	minPassphraseLength = 12
)

var (
	// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
	ErrWeakPassphrase = fmt.Errorf(
		"passphrase is too weak (must be at least %d characters and include upper, lower, "+
			"number, and symbol)",
		minPassphraseLength,
	)
	// ErrBadUserID is returned for user ids not of the form "@local:server".
	ErrBadUserID = errors.New("user id must look like @name:server")
	// ErrBadDeviceID is returned for empty device ids.
	ErrBadDeviceID = errors.New("device id must not be empty")
)

// Service manages identity key creation and access using a backing store.
//
// The identity contains:
//   - X25519 key pair, kept for key agreement with other devices.
//   - Ed25519 key pair, the device key confirmed during verification.
type Service struct {
	store domain.IdentityStore
}

// New returns an identity service backed by the given store.
func New(s domain.IdentityStore) *Service { return &Service{store: s} }

// GenerateIdentity creates a new identity for device of user, saves it
// encrypted with the passphrase, and returns it plus the fingerprint of its
// signing key.
func (s *Service) GenerateIdentity(
	passphrase string,
	user domain.UserID,
	device domain.DeviceID,
) (domain.Identity, domain.Fingerprint, error) {
	if !isSecurePassphrase(passphrase) {
		return domain.Identity{}, "", ErrWeakPassphrase
	}
	if !validUserID(user) {
		return domain.Identity{}, "", ErrBadUserID
	}
	if strings.TrimSpace(string(device)) == "" {
		return domain.Identity{}, "", ErrBadDeviceID
	}

	xPriv, xPub, err := crypto.GenerateX25519()
	if err != nil {
		return domain.Identity{}, "", err
	}
	edPriv, edPub, err := crypto.GenerateEd25519()
	if err != nil {
		return domain.Identity{}, "", err
	}

	id := domain.Identity{
		UserID:   user,
		DeviceID: device,
		XPub:     xPub,
		XPriv:    xPriv,
		EdPub:    edPub,
		EdPriv:   edPriv,
	}
	if err := s.store.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	return id, Fingerprint(id), nil
}

// LoadIdentity decrypts and returns the local identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.store.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the local signing key.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.store.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return Fingerprint(id), nil
}

// Fingerprint is the short form of id's Ed25519 key shown to users.
func Fingerprint(id domain.Identity) domain.Fingerprint {
	return domain.Fingerprint(crypto.Fingerprint(id.EdPub.Slice()))
}

// isSecurePassphrase enforces a basic strength policy.
func isSecurePassphrase(passphrase string) bool {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return false
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSymbol
}

func validUserID(u domain.UserID) bool {
	local, server, ok := strings.Cut(strings.TrimPrefix(string(u), "@"), ":")
	return strings.HasPrefix(string(u), "@") && ok && local != "" && server != ""
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
