package app

import (
	"fmt"
	"strings"

	"devtrust/internal/domain"
	"devtrust/internal/services/identity"
	"devtrust/internal/services/login"
)

// App is the wiring plus the unlocked local identity and the services that
// act for it.
type App struct {
	*Wire
	Me          domain.Identity
	Fingerprint domain.Fingerprint
	Login       *login.Service
}

// Open unlocks the local identity with passphrase.
func Open(w *Wire, passphrase string) (*App, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required (-p)")
	}
	me, err := w.IDs.LoadIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	svc := login.New(me, w.Trust, w.Logger)
	if _, server, ok := strings.Cut(me.UserID.String(), ":"); ok {
		svc.Homeserver = server
	}
	if w.Relay.PollInterval > 0 {
		svc.RetryInterval = w.Relay.PollInterval
	}
	return &App{
		Wire:        w,
		Me:          me,
		Fingerprint: identity.Fingerprint(me),
		Login:       svc,
	}, nil
}
