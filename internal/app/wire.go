package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"devtrust/internal/crypto"
	"devtrust/internal/relay"
	"devtrust/internal/rendezvous"
	"devtrust/internal/services/identity"
	"devtrust/internal/store"
)

// ErrNoRelay is returned when a rendezvous needs a relay and none is set.
var ErrNoRelay = errors.New("no relay configured, use --relay")

// Wire bundles the stores, services and relay settings for the CLI.
type Wire struct {
	Config   Config
	Identity *store.IdentityFileStore
	Trust    *store.TrustFileStore
	IDs      *identity.Service
	Relay    relay.Config
	HTTP     *http.Client
	Logger   *slog.Logger
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	if cfg.Home == "" {
		return nil, errors.New("app: home directory required")
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	identityStore := store.NewIdentityFileStore(cfg.Home)
	return &Wire{
		Config:   cfg,
		Identity: identityStore,
		Trust:    store.NewTrustFileStore(cfg.Home),
		IDs:      identity.New(identityStore),
		Relay: relay.Config{
			BaseURL:      cfg.RelayURL,
			HTTP:         httpClient,
			PollInterval: cfg.PollInterval,
			PollTimeout:  cfg.PollTimeout,
			Logger:       logger,
		},
		HTTP:   httpClient,
		Logger: logger,
	}, nil
}

// Transports returns the rendezvous transports a scanned code may name.
func (w *Wire) Transports() rendezvous.Transports { return relay.Transports(w.Relay) }

// NewChannel opens a fresh rendezvous session on the configured relay.
func (w *Wire) NewChannel() (*rendezvous.SecureChannel, error) {
	if w.Relay.BaseURL == "" {
		return nil, ErrNoRelay
	}
	return rendezvous.NewSecureChannel(relay.NewSession(w.Relay), w.Logger)
}

// JoinChannel builds the channel described by a code shown on another
// device: either the JSON code or base64 of the QR code bytes.
func (w *Wire) JoinChannel(code string) (*rendezvous.SecureChannel, rendezvous.Intent, error) {
	code = strings.TrimSpace(code)
	if strings.HasPrefix(code, "{") {
		return rendezvous.BuildChannelFromCode(code, w.Transports(), w.Logger)
	}
	qr, err := crypto.UnB64(code)
	if err != nil {
		return nil, "", fmt.Errorf("decode QR code: %w", err)
	}
	return rendezvous.BuildChannelFromQR(qr, w.Transports(), w.Logger)
}
