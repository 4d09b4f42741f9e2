package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
	"devtrust/internal/rendezvous"
)

// MethodQRLogin is recorded as the verification method of keys trusted
// through a QR login.
const MethodQRLogin = "m.login.qr"

var (
	// ErrCheckCodeRejected is returned when the user said the check codes
	// differ.
	ErrCheckCodeRejected = errors.New("login: check code rejected")
	// ErrUnexpectedPayload is returned when the other device sends a payload
	// out of turn.
	ErrUnexpectedPayload = errors.New("login: unexpected payload")
	// ErrUserMismatch is returned when a new device claims another account.
	ErrUserMismatch = errors.New("login: device belongs to another user")
)

// ConfirmFunc shows the check code to the user and reports whether it
// matches the one on the other device.
type ConfirmFunc func(ctx context.Context, checkCode string) bool

// Result describes the device on the other end of a completed login.
type Result struct {
	Peer      domain.Device
	PeerKey   domain.Ed25519Public
	CheckCode string
}

// Service runs login exchanges for the local device.
type Service struct {
	me    domain.Identity
	trust domain.TrustStore
	log   *slog.Logger
	// Homeserver is announced to new devices.
	Homeserver string
	// RetryInterval spaces Connect attempts while the other device is silent.
	RetryInterval time.Duration
}

// New returns a login service acting as me.
func New(me domain.Identity, trust domain.TrustStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		me:            me,
		trust:         trust,
		log:           logger.With("device", me.Device()),
		RetryInterval: 500 * time.Millisecond,
	}
}

// Connect completes the channel handshake, retrying while the other device
// has not answered yet.
func (s *Service) Connect(ctx context.Context, ch *rendezvous.SecureChannel) error {
	for {
		err := ch.Connect(ctx)
		if !rendezvous.IsKind(err, rendezvous.KindNoResponse) {
			return err
		}
		s.log.Debug("waiting for other device")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.RetryInterval):
		}
	}
}

// Reciprocate signs in a new device of the same user from this, already
// signed-in, device. Either device may have generated the channel's code.
func (s *Service) Reciprocate(ctx context.Context, ch *rendezvous.SecureChannel, confirm ConfirmFunc) (*Result, error) {
	code, err := s.handshake(ctx, ch, confirm)
	if err != nil {
		return nil, err
	}

	if err := ch.SecureSend(ctx, rendezvous.Payload{
		Type:       rendezvous.PayloadProtocols,
		Protocols:  []string{rendezvous.ProtocolDeviceAuthorization},
		Homeserver: s.Homeserver,
	}); err != nil {
		return nil, err
	}
	p, err := s.expect(ctx, ch, rendezvous.PayloadProtocol)
	if err != nil {
		return nil, err
	}
	if p.Protocol != rendezvous.ProtocolDeviceAuthorization {
		_ = ch.Cancel(ctx, rendezvous.ReasonUnsupportedProtocol)
		return nil, fmt.Errorf("login: unsupported protocol %q", p.Protocol)
	}
	if err := ch.SecureSend(ctx, rendezvous.Payload{
		Type:      rendezvous.PayloadProtocolAccepted,
		UserID:    s.me.UserID.String(),
		DeviceID:  s.me.DeviceID.String(),
		DeviceKey: crypto.B64(s.me.EdPub.Slice()),
	}); err != nil {
		return nil, err
	}

	done, err := s.expect(ctx, ch, rendezvous.PayloadSuccess)
	if err != nil {
		return nil, err
	}
	res, err := s.peer(ctx, ch, done, code)
	if err != nil {
		return nil, err
	}
	s.log.Info("signed in new device", "peer", res.Peer)
	return res, ch.Close(ctx)
}

// Join signs this new device in through a signed-in device of the same
// user.
func (s *Service) Join(ctx context.Context, ch *rendezvous.SecureChannel, confirm ConfirmFunc) (*Result, error) {
	code, err := s.handshake(ctx, ch, confirm)
	if err != nil {
		return nil, err
	}

	offer, err := s.expect(ctx, ch, rendezvous.PayloadProtocols)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(offer.Protocols, rendezvous.ProtocolDeviceAuthorization) {
		_ = ch.Cancel(ctx, rendezvous.ReasonUnsupportedProtocol)
		return nil, fmt.Errorf("login: no supported protocol in %v", offer.Protocols)
	}
	if err := ch.SecureSend(ctx, rendezvous.Payload{
		Type:     rendezvous.PayloadProtocol,
		Protocol: rendezvous.ProtocolDeviceAuthorization,
		DeviceID: s.me.DeviceID.String(),
	}); err != nil {
		return nil, err
	}

	accepted, err := s.expect(ctx, ch, rendezvous.PayloadProtocolAccepted)
	if err != nil {
		return nil, err
	}
	res, err := s.peer(ctx, ch, accepted, code)
	if err != nil {
		return nil, err
	}
	if err := ch.SecureSend(ctx, rendezvous.Payload{
		Type:      rendezvous.PayloadSuccess,
		UserID:    s.me.UserID.String(),
		DeviceID:  s.me.DeviceID.String(),
		DeviceKey: crypto.B64(s.me.EdPub.Slice()),
	}); err != nil {
		return nil, err
	}
	// The other device closes the relay session once it read success.
	ch.Discard()
	s.log.Info("signed in through other device", "peer", res.Peer, "homeserver", offer.Homeserver)
	return res, nil
}

// handshake connects and has the user compare check codes.
func (s *Service) handshake(ctx context.Context, ch *rendezvous.SecureChannel, confirm ConfirmFunc) (string, error) {
	if err := s.Connect(ctx, ch); err != nil {
		return "", err
	}
	code, err := ch.CheckCode()
	if err != nil {
		return "", err
	}
	if confirm != nil && !confirm(ctx, code) {
		_ = ch.Cancel(ctx, rendezvous.ReasonUserDeclined)
		return "", ErrCheckCodeRejected
	}
	return code, nil
}

func (s *Service) expect(ctx context.Context, ch *rendezvous.SecureChannel, want rendezvous.PayloadType) (*rendezvous.Payload, error) {
	for {
		p, err := ch.ReceivePayload(ctx)
		if rendezvous.IsKind(err, rendezvous.KindNoResponse) && ctx.Err() == nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Type != want {
			_ = ch.Cancel(ctx, rendezvous.ReasonUnexpectedMessage)
			return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedPayload, p.Type, want)
		}
		return p, nil
	}
}

// peer checks the other device's announced identity and trusts its key.
func (s *Service) peer(ctx context.Context, ch *rendezvous.SecureChannel, p *rendezvous.Payload, code string) (*Result, error) {
	if domain.UserID(p.UserID) != s.me.UserID {
		_ = ch.Cancel(ctx, rendezvous.ReasonUnexpectedMessage)
		return nil, fmt.Errorf("%w: %s", ErrUserMismatch, p.UserID)
	}
	raw, err := crypto.UnB64(p.DeviceKey)
	if err != nil || len(raw) != len(domain.Ed25519Public{}) || p.DeviceID == "" {
		_ = ch.Cancel(ctx, rendezvous.ReasonUnexpectedMessage)
		return nil, fmt.Errorf("%w: bad device key", ErrUnexpectedPayload)
	}
	res := &Result{
		Peer:      domain.Device{UserID: s.me.UserID, DeviceID: domain.DeviceID(p.DeviceID)},
		CheckCode: code,
	}
	copy(res.PeerKey[:], raw)
	if s.trust != nil {
		if err := s.trust.MarkVerified(domain.TrustedKey{
			UserID:     res.Peer.UserID,
			DeviceID:   res.Peer.DeviceID,
			Key:        res.PeerKey,
			Method:     MethodQRLogin,
			VerifiedAt: time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
	}
	return res, nil
}
