package store

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"devtrust/internal/domain"
)

const trustFile = "trusted_keys.json"

// TrustFileStore persists keys confirmed by interactive verification.
type TrustFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewTrustFileStore returns a TrustFileStore rooted at dir.
func NewTrustFileStore(dir string) *TrustFileStore { return &TrustFileStore{dir: dir} }

// MarkVerified records key. Verifying the same key of the same user again
// refreshes the record instead of adding a second one.
func (s *TrustFileStore) MarkVerified(key domain.TrustedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(keys, func(k domain.TrustedKey) bool {
		return k.UserID == key.UserID && k.Key == key.Key
	})
	if i >= 0 {
		keys[i] = key
	} else {
		keys = append(keys, key)
	}
	return writeJSON(s.path(), keys, 0o600)
}

// TrustedKeys returns the verified keys of user.
func (s *TrustFileStore) TrustedKeys(user domain.UserID) ([]domain.TrustedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(keys, func(k domain.TrustedKey) bool { return k.UserID != user }), nil
}

// IsVerified reports whether key of user was verified.
func (s *TrustFileStore) IsVerified(user domain.UserID, key domain.Ed25519Public) (bool, error) {
	keys, err := s.TrustedKeys(user)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(keys, func(k domain.TrustedKey) bool { return k.Key == key }), nil
}

// All returns every record, ordered by user then time of verification.
func (s *TrustFileStore) All() ([]domain.TrustedKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(keys, func(a, b domain.TrustedKey) int {
		if c := strings.Compare(string(a.UserID), string(b.UserID)); c != 0 {
			return c
		}
		return a.VerifiedAt.Compare(b.VerifiedAt)
	})
	return keys, nil
}

func (s *TrustFileStore) load() ([]domain.TrustedKey, error) {
	var keys []domain.TrustedKey
	if _, err := readJSON(s.path(), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *TrustFileStore) path() string { return filepath.Join(s.dir, trustFile) }

var _ domain.TrustStore = (*TrustFileStore)(nil)
