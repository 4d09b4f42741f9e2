package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"devtrust/internal/rendezvous"
)

var (
	// ErrCancelled is returned once the other device or the relay ended the
	// session.
	ErrCancelled = errors.New("relay: rendezvous session cancelled")
	// ErrExpired is returned when the session ran past its Expires time.
	ErrExpired = errors.New("relay: rendezvous session expired")
	// ErrConflict is returned when a PUT lost against a newer write.
	ErrConflict = errors.New("relay: rendezvous session changed concurrently")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("relay: session closed")
)

const (
	defaultPollInterval = time.Second
	defaultPollTimeout  = 10 * time.Second
)

// Config holds what a client Session needs to reach a relay.
type Config struct {
	// BaseURL is the relay origin, e.g. "https://relay.example.org".
	BaseURL      string
	HTTP         *http.Client
	PollInterval time.Duration
	// PollTimeout bounds one Receive; after it Receive reports no content.
	PollTimeout time.Duration
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HTTP == nil {
		c.HTTP = http.DefaultClient
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Session is one rendezvous session on a relay, seen from one device. It
// implements rendezvous.Transport.
type Session struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	uri     string
	etag    string
	expires time.Time
	done    error
}

var _ rendezvous.Transport = (*Session)(nil)

// NewSession returns a session that is created on the relay on first use.
func NewSession(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{cfg: cfg, log: cfg.Logger}
}

// JoinSession attaches to a session another device created at uri.
func JoinSession(uri string, cfg Config) *Session {
	s := NewSession(cfg)
	s.uri = uri
	return s
}

// Transports returns the rendezvous transport table for HTTP relays.
func Transports(cfg Config) rendezvous.Transports {
	return rendezvous.Transports{
		rendezvous.TransportHTTP: func(d rendezvous.TransportDetails) (rendezvous.Transport, error) {
			u, err := url.Parse(d.URI)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return nil, fmt.Errorf("relay: bad session uri %q", d.URI)
			}
			return JoinSession(d.URI, cfg), nil
		},
	}
}

// URI is the session's address, empty before it was created.
func (s *Session) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri
}

// Details creates the session if needed and returns where it lives.
func (s *Session) Details(ctx context.Context) (rendezvous.TransportDetails, error) {
	uri, err := s.ensure(ctx)
	if err != nil {
		return rendezvous.TransportDetails{}, err
	}
	return rendezvous.TransportDetails{Type: rendezvous.TransportHTTP, URI: uri}, nil
}

// Send replaces the session content with data.
func (s *Session) Send(ctx context.Context, data []byte) error {
	uri, err := s.ensure(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	etag := s.etag
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	resp, err := s.cfg.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		return s.gone()
	case resp.StatusCode/100 != 2:
		return fmt.Errorf("relay put %s: %s", uri, resp.Status)
	}
	s.remember(resp)
	return nil
}

// Receive long-polls for content the other device wrote. It returns nil,
// nil when nothing arrived within PollTimeout.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	uri, done := s.uri, s.done
	s.mu.Unlock()
	if done != nil {
		return nil, done
	}
	if uri == "" {
		return nil, nil
	}

	deadline := time.Now().Add(s.cfg.PollTimeout)
	for {
		data, err := s.poll(ctx, uri)
		if err != nil || data != nil {
			return data, err
		}
		wait := s.cfg.PollInterval
		if left := time.Until(deadline); left <= 0 {
			return nil, nil
		} else if left < wait {
			wait = left
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close deletes the session on the relay. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	uri, done := s.uri, s.done
	if done == nil {
		s.done = ErrClosed
	}
	s.mu.Unlock()
	if uri == "" || done != nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, uri, nil)
	if err != nil {
		return err
	}
	resp, err := s.cfg.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("relay delete %s: %s", uri, resp.Status)
	}
	return nil
}

// poll does one conditional GET. A nil result without error means nothing
// new.
func (s *Session) poll(ctx context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	etag := s.etag
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	resp, err := s.cfg.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusNotModified:
		s.remember(resp)
		return nil, nil
	case http.StatusNotFound:
		return nil, s.gone()
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("relay get %s: %s", uri, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	s.remember(resp)
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

// ensure creates the session on first use and returns its uri.
func (s *Session) ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	uri, done := s.uri, s.done
	s.mu.Unlock()
	if done != nil {
		return "", done
	}
	if uri != "" {
		return uri, nil
	}

	base := strings.TrimRight(s.cfg.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+Path, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := s.cfg.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("relay post %s: %s", Path, resp.Status)
	}
	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("relay post %s: %w", Path, err)
	}
	loc, err := resolve(base, out.URL)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uri == "" {
		s.uri = loc
		s.rememberLocked(resp)
		s.log.Debug("rendezvous session created", "session", loc, "expires", s.expires)
	}
	return s.uri, nil
}

// gone records that the relay no longer knows the session.
func (s *Session) gone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = ErrCancelled
		if !s.expires.IsZero() && !time.Now().Before(s.expires) {
			s.done = ErrExpired
		}
	}
	return s.done
}

func (s *Session) remember(resp *http.Response) {
	s.mu.Lock()
	s.rememberLocked(resp)
	s.mu.Unlock()
}

func (s *Session) rememberLocked(resp *http.Response) {
	if etag := resp.Header.Get("ETag"); etag != "" {
		s.etag = etag
	}
	if exp := resp.Header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			s.expires = t
		}
	}
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("relay: bad session url %q: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
