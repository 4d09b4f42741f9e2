package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"devtrust/internal/domain"
)

const (
	identityFile  = "identity.json.enc"
	identityLabel = "identity"
)

// ErrNoIdentity is returned when no identity was created in the home
// directory yet.
var ErrNoIdentity = errors.New("store: no identity, run init first")

// IdentityFileStore persists the device identity sealed under a passphrase.
type IdentityFileStore struct {
	dir string
	kdf kdfParams
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir, kdf: defaultKDF()}
}

// SaveIdentity seals id with passphrase and replaces any stored identity.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	b, err := seal(passphrase, identityLabel, raw, s.kdf)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, identityFile), b, 0o600)
}

// LoadIdentity opens the stored identity.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(filepath.Join(s.dir, identityFile))
	if errors.Is(err, os.ErrNotExist) {
		return domain.Identity{}, ErrNoIdentity
	}
	if err != nil {
		return domain.Identity{}, err
	}
	raw, err := open(passphrase, identityLabel, b)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// Exists reports whether an identity file is present.
func (s *IdentityFileStore) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, identityFile))
	return err == nil
}

var _ domain.IdentityStore = (*IdentityFileStore)(nil)
