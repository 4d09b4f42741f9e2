package rendezvous

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"devtrust/internal/crypto"
	"devtrust/internal/domain"
)

// Intent says which side of a login the code's generator is.
type Intent string

const (
	// IntentLoginOnNewDevice: the code was generated by the device that
	// wants to sign in.
	IntentLoginOnNewDevice Intent = "login.start"
	// IntentReciprocateLogin: the code was generated by a signed-in device
	// offering to sign in a new one.
	IntentReciprocateLogin Intent = "login.reciprocate"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	return i == IntentLoginOnNewDevice || i == IntentReciprocateLogin
}

const (
	// Algorithm names the X25519 / HKDF-SHA256 / ChaCha20-Poly1305 channel.
	Algorithm = "m.rendezvous.ecies.curve25519-chacha20poly1305-sha256"
	// TransportHTTP is the relay transport served by internal/relay.
	TransportHTTP = "org.matrix.msc3886.http.v1"

	qrPrefix           = "MATRIX"
	qrVersion          = 0x02
	qrModeLogin        = 0x03
	qrModeReciprocate  = 0x04
	qrKeySize          = 32
	qrLengthFieldBytes = 2
)

// TransportDetails locates the relay session a code points at.
type TransportDetails struct {
	Type string `json:"type"`
	URI  string `json:"uri,omitempty"`
}

// Details is the rendezvous part of a Code.
type Details struct {
	Algorithm string           `json:"algorithm"`
	Key       string           `json:"key,omitempty"`
	Transport TransportDetails `json:"transport"`
}

// Code is the JSON form of a rendezvous code.
type Code struct {
	Intent     Intent  `json:"intent"`
	Rendezvous Details `json:"rendezvous"`
}

// PublicKey decodes the embedded ECDH key.
func (c *Code) PublicKey() (domain.X25519Public, error) {
	var pub domain.X25519Public
	b, err := crypto.UnB64(c.Rendezvous.Key)
	if err != nil || len(b) != qrKeySize {
		return pub, newError(KindInvalidCode, "bad public key")
	}
	copy(pub[:], b)
	return pub, nil
}

// String renders the code as JSON.
func (c *Code) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseCode decodes and checks a JSON code. Nothing is constructed for a
// code that fails.
func ParseCode(s string) (*Code, error) {
	var c Code
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, wrapError(KindInvalidCode, "not a JSON code", err)
	}
	if c.Rendezvous.Transport.Type == "" {
		return nil, newError(KindInvalidCode, "missing transport type")
	}
	if c.Intent == "" || !c.Intent.Valid() {
		return nil, newError(KindInvalidIntent, fmt.Sprintf("%q", c.Intent))
	}
	return &c, nil
}

// QR encodes the code in the binary QR layout:
//
//	"MATRIX" | 0x02 | mode | key (32) | u16 len | uri [| u16 len | server name]
//
// serverName is only carried by codes generated by a signed-in device.
func (c *Code) QR(serverName string) ([]byte, error) {
	key, err := c.PublicKey()
	if err != nil {
		return nil, err
	}
	var mode byte
	switch c.Intent {
	case IntentLoginOnNewDevice:
		mode = qrModeLogin
	case IntentReciprocateLogin:
		mode = qrModeReciprocate
	default:
		return nil, newError(KindInvalidIntent, string(c.Intent))
	}
	uri := c.Rendezvous.Transport.URI
	if len(uri) > 0xffff || len(serverName) > 0xffff {
		return nil, newError(KindInvalidCode, "locator too long")
	}

	var buf bytes.Buffer
	buf.WriteString(qrPrefix)
	buf.WriteByte(qrVersion)
	buf.WriteByte(mode)
	buf.Write(key[:])
	writeString16(&buf, uri)
	if mode == qrModeReciprocate {
		writeString16(&buf, serverName)
	}
	return buf.Bytes(), nil
}

// ParseQR decodes QR bytes into a code over the HTTP relay and the server
// name it carries, if any.
func ParseQR(b []byte) (*Code, string, error) {
	if !bytes.HasPrefix(b, []byte(qrPrefix)) {
		return nil, "", newError(KindInvalidCode, "missing QR prefix")
	}
	b = b[len(qrPrefix):]
	if len(b) < 2+qrKeySize {
		return nil, "", newError(KindInvalidCode, "truncated QR code")
	}
	if b[0] != qrVersion {
		return nil, "", newError(KindInvalidCode, fmt.Sprintf("unsupported QR version %d", b[0]))
	}
	var intent Intent
	switch b[1] {
	case qrModeLogin:
		intent = IntentLoginOnNewDevice
	case qrModeReciprocate:
		intent = IntentReciprocateLogin
	default:
		return nil, "", newError(KindInvalidIntent, fmt.Sprintf("QR mode %d", b[1]))
	}
	key := b[2 : 2+qrKeySize]
	rest := b[2+qrKeySize:]

	uri, rest, ok := readString16(rest)
	if !ok || uri == "" {
		return nil, "", newError(KindInvalidCode, "truncated QR locator")
	}
	var serverName string
	if intent == IntentReciprocateLogin {
		if serverName, rest, ok = readString16(rest); !ok {
			return nil, "", newError(KindInvalidCode, "truncated QR server name")
		}
	}
	if len(rest) != 0 {
		return nil, "", newError(KindInvalidCode, "trailing QR bytes")
	}
	return &Code{
		Intent: intent,
		Rendezvous: Details{
			Algorithm: Algorithm,
			Key:       crypto.B64(key),
			Transport: TransportDetails{Type: TransportHTTP, URI: uri},
		},
	}, serverName, nil
}

func writeString16(buf *bytes.Buffer, s string) {
	var n [qrLengthFieldBytes]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

func readString16(b []byte) (string, []byte, bool) {
	if len(b) < qrLengthFieldBytes {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[qrLengthFieldBytes:]
	if len(b) < n {
		return "", nil, false
	}
	return string(b[:n]), b[n:], true
}
