package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
	"devtrust/internal/protocol/ecies"
)

// Handshake literals. A peer speaking another protocol version cannot
// produce or accept them.
const (
	loginInitiate = "MATRIX_QR_CODE_LOGIN_INITIATE"
	loginOK       = "MATRIX_QR_CODE_LOGIN_OK"
)

type role uint8

const (
	// roleGenerator shows the code and waits for the other device.
	roleGenerator role = iota
	// roleScanner built the channel from a code and opens the handshake.
	roleScanner
)

// SecureChannel is a one-shot end-to-end encrypted channel over a relay.
type SecureChannel struct {
	transport Transport
	role      role
	log       *slog.Logger

	mu         sync.Mutex
	ecies      *ecies.Ecies
	theirKey   domain.X25519Public
	intent     Intent
	serverName string
	code       *Code
	// pending is the scanner's session while it waits for the ack.
	pending    *ecies.Established
	initiate   []byte
	sent       bool
	session    *ecies.Established
	connecting bool
	connected  bool
	failed     error
	closed     bool
}

// NewSecureChannel returns a channel that generates a code and waits for
// the other device.
func NewSecureChannel(t Transport, logger *slog.Logger) (*SecureChannel, error) {
	e, err := ecies.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SecureChannel{transport: t, role: roleGenerator, ecies: e, log: logger}, nil
}

// BuildChannelFromCode parses a JSON code and returns a channel to the
// device that generated it.
func BuildChannelFromCode(code string, transports Transports, logger *slog.Logger) (*SecureChannel, Intent, error) {
	c, err := ParseCode(code)
	if err != nil {
		return nil, "", err
	}
	ch, err := buildChannel(c, "", transports, logger)
	if err != nil {
		return nil, "", err
	}
	return ch, c.Intent, nil
}

// BuildChannelFromQR parses QR bytes and returns a channel to the device
// that showed them.
func BuildChannelFromQR(data []byte, transports Transports, logger *slog.Logger) (*SecureChannel, Intent, error) {
	c, serverName, err := ParseQR(data)
	if err != nil {
		return nil, "", err
	}
	ch, err := buildChannel(c, serverName, transports, logger)
	if err != nil {
		return nil, "", err
	}
	return ch, c.Intent, nil
}

func buildChannel(c *Code, serverName string, transports Transports, logger *slog.Logger) (*SecureChannel, error) {
	if c.Rendezvous.Algorithm != Algorithm {
		return nil, newError(KindUnsupportedAlgorithm, c.Rendezvous.Algorithm)
	}
	factory, ok := transports[c.Rendezvous.Transport.Type]
	if !ok {
		return nil, newError(KindUnsupportedTransport, c.Rendezvous.Transport.Type)
	}
	key, err := c.PublicKey()
	if err != nil {
		return nil, err
	}
	t, err := factory(c.Rendezvous.Transport)
	if err != nil {
		return nil, wrapError(KindInvalidCode, "open transport", err)
	}
	e, err := ecies.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SecureChannel{
		transport:  t,
		role:       roleScanner,
		log:        logger,
		ecies:      e,
		theirKey:   key,
		intent:     c.Intent,
		serverName: serverName,
		code:       c,
	}, nil
}

// Intent is the intent of the code this channel was built from or
// generated.
func (c *SecureChannel) Intent() Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intent
}

// ServerName is the home server name carried by a scanned QR code.
func (c *SecureChannel) ServerName() string { return c.serverName }

// GenerateCode creates the code for the other device. It may be called
// once per channel.
func (c *SecureChannel) GenerateCode(ctx context.Context, intent Intent) (*Code, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, newError(KindClosed, "")
	case c.role != roleGenerator || c.code != nil:
		return nil, newError(KindCodeAlreadyGenerated, "")
	case !intent.Valid():
		return nil, newError(KindInvalidIntent, string(intent))
	}
	details, err := c.transport.Details(ctx)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: transport details: %w", err)
	}
	pub := c.ecies.PublicKey()
	c.intent = intent
	c.code = &Code{
		Intent: intent,
		Rendezvous: Details{
			Algorithm: Algorithm,
			Key:       crypto.B64(pub[:]),
			Transport: details,
		},
	}
	c.log.Debug("rendezvous code generated", "intent", intent, "uri", details.URI)
	return c.code, nil
}

// Connect completes the handshake. A KindNoResponse error means the other
// device has not answered yet and Connect may be called again; any other
// error is final. Once connected or failed, further calls fail with
// KindAlreadyConnected without touching the relay; after a failure the
// error wraps the original one.
func (c *SecureChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkConnectLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.connecting = true
	c.mu.Unlock()

	var session *ecies.Established
	var err error
	if c.role == roleGenerator {
		session, err = c.acceptHandshake(ctx)
	} else {
		session, err = c.openHandshake(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if err != nil {
		if !IsKind(err, KindNoResponse) && !isTransient(err) {
			c.failLocked(err)
		}
		return err
	}
	c.session = session
	c.pending = nil
	c.initiate = nil
	c.connected = true
	c.log.Info("rendezvous channel established", "check_code", session.CheckCode().Digits())
	return nil
}

func (c *SecureChannel) checkConnectLocked() error {
	switch {
	case c.closed:
		return newError(KindClosed, "")
	case c.failed != nil:
		return wrapError(KindAlreadyConnected, "earlier attempt failed", c.failed)
	case c.connected || c.connecting:
		return newError(KindAlreadyConnected, "")
	case c.role == roleGenerator && c.code == nil:
		return newError(KindNotConnected, "no code generated")
	}
	return nil
}

// acceptHandshake waits for the initiation and acknowledges it.
func (c *SecureChannel) acceptHandshake(ctx context.Context) (*ecies.Established, error) {
	msg, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, transient(err)
	}
	if msg == nil {
		return nil, newError(KindNoResponse, "")
	}
	session, pt, err := c.ecies.EstablishInbound(msg)
	if err != nil {
		return nil, wrapError(KindInvalidResponse, "open handshake", err)
	}
	if string(pt) != loginInitiate {
		return nil, newError(KindInvalidResponse, "unexpected handshake literal")
	}
	ack, err := session.Encrypt([]byte(loginOK))
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, ack); err != nil {
		return nil, fmt.Errorf("rendezvous: send ack: %w", err)
	}
	return session, nil
}

// openHandshake sends the initiation, once, and waits for the ack.
func (c *SecureChannel) openHandshake(ctx context.Context) (*ecies.Established, error) {
	c.mu.Lock()
	if c.pending == nil {
		session, msg, err := c.ecies.EstablishOutbound(c.theirKey, []byte(loginInitiate))
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.pending, c.initiate = session, msg
	}
	pending, initiate, sent := c.pending, c.initiate, c.sent
	c.mu.Unlock()

	if !sent {
		if err := c.transport.Send(ctx, initiate); err != nil {
			return nil, transient(err)
		}
		c.mu.Lock()
		c.sent = true
		c.mu.Unlock()
	}

	msg, err := c.transport.Receive(ctx)
	if err != nil {
		return nil, transient(err)
	}
	if msg == nil {
		return nil, newError(KindNoResponse, "")
	}
	pt, err := pending.Decrypt(msg)
	if err != nil {
		return nil, wrapError(KindInvalidResponse, "open ack", err)
	}
	if string(pt) != loginOK {
		return nil, newError(KindInvalidResponse, "unexpected ack literal")
	}
	return pending, nil
}

// CheckCode returns the two digits both devices display for comparison.
func (c *SecureChannel) CheckCode() (string, error) {
	s, err := c.established()
	if err != nil {
		return "", err
	}
	return s.CheckCode().Digits(), nil
}

// SecureSend encrypts payload as JSON and sends it.
func (c *SecureChannel) SecureSend(ctx context.Context, payload any) error {
	s, err := c.established()
	if err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rendezvous: encode payload: %w", err)
	}
	ct, err := s.Encrypt(b)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, ct); err != nil {
		// The send counter already moved on; the peer could not decrypt
		// anything we send after this.
		err = fmt.Errorf("rendezvous: send: %w", err)
		c.fail(err)
		return err
	}
	return nil
}

// SecureReceive waits for the next message, decrypts it and decodes the
// JSON into out. KindNoResponse means nothing arrived yet; KindDecryptFailed
// is final.
func (c *SecureChannel) SecureReceive(ctx context.Context, out any) error {
	s, err := c.established()
	if err != nil {
		return err
	}
	msg, err := c.transport.Receive(ctx)
	if err != nil {
		return fmt.Errorf("rendezvous: receive: %w", err)
	}
	if msg == nil {
		return newError(KindNoResponse, "")
	}
	pt, err := s.Decrypt(msg)
	if err != nil {
		derr := wrapError(KindDecryptFailed, "", err)
		c.fail(derr)
		return derr
	}
	if err := json.Unmarshal(pt, out); err != nil {
		return wrapError(KindInvalidResponse, "decode payload", err)
	}
	return nil
}

// ReceivePayload is SecureReceive for login payloads. A failure payload
// from the other device is returned as a KindCancelled error.
func (c *SecureChannel) ReceivePayload(ctx context.Context) (*Payload, error) {
	var p Payload
	if err := c.SecureReceive(ctx, &p); err != nil {
		return nil, err
	}
	if p.Type == PayloadFailure {
		return &p, newError(KindCancelled, string(p.Reason))
	}
	return &p, nil
}

// Cancel tells the other device why we stop, when a session exists, and
// closes the channel.
func (c *SecureChannel) Cancel(ctx context.Context, reason FailureReason) error {
	c.mu.Lock()
	connected := c.connected && c.failed == nil && !c.closed
	c.mu.Unlock()
	if connected {
		if err := c.SecureSend(ctx, Payload{Type: PayloadFailure, Reason: reason}); err != nil {
			c.log.Warn("failed to send rendezvous failure", "reason", reason, "err", err)
		}
	}
	return c.Close(ctx)
}

// Close ends the relay session and discards the keys. It is idempotent.
func (c *SecureChannel) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.session, c.pending = nil, nil
	c.mu.Unlock()
	return c.transport.Close(ctx)
}

// Discard drops the session keys and marks the channel closed without
// ending the relay session, which is left for the other device to close
// once it has read our last message.
func (c *SecureChannel) Discard() {
	c.mu.Lock()
	c.closed = true
	c.session, c.pending = nil, nil
	c.mu.Unlock()
}

func (c *SecureChannel) established() (*ecies.Established, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return nil, newError(KindClosed, "")
	case c.failed != nil:
		return nil, c.failed
	case !c.connected:
		return nil, newError(KindNotConnected, "")
	}
	return c.session, nil
}

func (c *SecureChannel) fail(err error) {
	c.mu.Lock()
	c.failLocked(err)
	c.mu.Unlock()
}

func (c *SecureChannel) failLocked(err error) {
	if c.failed == nil {
		c.log.Warn("rendezvous channel failed", "err", err)
		c.failed = err
	}
	c.session, c.pending = nil, nil
}

// transientError marks relay failures that leave the channel usable.
type transientError struct{ err error }

func (e *transientError) Error() string { return "rendezvous: transport: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error { return &transientError{err: err} }

func isTransient(err error) bool {
	_, ok := err.(*transientError)
	return ok
}
