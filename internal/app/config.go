package app

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string       // config directory, e.g. $HOME/.devtrust
	RelayURL string       // rendezvous relay base URL, e.g. http://127.0.0.1:8080
	HTTP     *http.Client // optional; defaults to http.DefaultClient

	// UserID and DeviceID name the device when a new identity is created.
	UserID   string
	DeviceID string

	PollInterval   time.Duration // relay polling cadence
	PollTimeout    time.Duration // how long one relay read waits
	RequestTimeout time.Duration // verification request lifetime

	Logger *slog.Logger
}
