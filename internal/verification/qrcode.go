package verification

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
)

// QRMode says whose keys a verification QR code carries.
type QRMode byte

const (
	// ModeVerifyOtherUser: first key is the displayer's, second is what the
	// displayer believes the scanner's key to be.
	ModeVerifyOtherUser QRMode = 0x00
	// ModeVerifySelfTrusted: shown by a device that trusts the user's keys.
	ModeVerifySelfTrusted QRMode = 0x01
	// ModeVerifySelfUntrusted: shown by a device that does not yet.
	ModeVerifySelfUntrusted QRMode = 0x02
)

const (
	qrPrefix     = "MATRIX"
	qrVersion    = 0x02
	qrSecretSize = 16
	qrMinSecret  = 8
)

// ErrInvalidQRCode is returned when verification QR data cannot be parsed.
var ErrInvalidQRCode = errors.New("verification: invalid QR code")

// QRCodeData is the payload of a verification QR code:
//
//	"MATRIX" | 0x02 | mode | u16 len | txn | key1 (32) | key2 (32) | secret
type QRCodeData struct {
	Mode          QRMode
	TransactionID string
	FirstKey      domain.Ed25519Public
	SecondKey     domain.Ed25519Public
	Secret        []byte
}

// EncodedSecret is the secret as sent in the reciprocating start event.
func (q *QRCodeData) EncodedSecret() string { return crypto.B64(q.Secret) }

// Encode serialises q.
func (q *QRCodeData) Encode() ([]byte, error) {
	if len(q.TransactionID) > 0xffff {
		return nil, fmt.Errorf("%w: transaction id too long", ErrInvalidQRCode)
	}
	var buf bytes.Buffer
	buf.WriteString(qrPrefix)
	buf.WriteByte(qrVersion)
	buf.WriteByte(byte(q.Mode))
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(q.TransactionID)))
	buf.Write(n[:])
	buf.WriteString(q.TransactionID)
	buf.Write(q.FirstKey[:])
	buf.Write(q.SecondKey[:])
	buf.Write(q.Secret)
	return buf.Bytes(), nil
}

// ParseQRCode decodes verification QR data.
func ParseQRCode(b []byte) (*QRCodeData, error) {
	if !bytes.HasPrefix(b, []byte(qrPrefix)) {
		return nil, fmt.Errorf("%w: missing prefix", ErrInvalidQRCode)
	}
	b = b[len(qrPrefix):]
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: truncated header", ErrInvalidQRCode)
	}
	if b[0] != qrVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidQRCode, b[0])
	}
	mode := QRMode(b[1])
	if mode > ModeVerifySelfUntrusted {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidQRCode, mode)
	}
	n := int(binary.BigEndian.Uint16(b[2:4]))
	b = b[4:]
	if len(b) < n+64+qrMinSecret {
		return nil, fmt.Errorf("%w: truncated body", ErrInvalidQRCode)
	}
	q := &QRCodeData{Mode: mode, TransactionID: string(b[:n])}
	b = b[n:]
	copy(q.FirstKey[:], b[:32])
	copy(q.SecondKey[:], b[32:64])
	q.Secret = append([]byte(nil), b[64:]...)
	return q, nil
}
