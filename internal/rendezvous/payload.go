package rendezvous

// PayloadType is the type of a login payload exchanged over an established
// channel.
type PayloadType string

const (
	PayloadProtocols        PayloadType = "m.login.protocols"
	PayloadProtocol         PayloadType = "m.login.protocol"
	PayloadProtocolAccepted PayloadType = "m.login.protocol_accepted"
	PayloadSuccess          PayloadType = "m.login.success"
	PayloadDeclined         PayloadType = "m.login.declined"
	PayloadFailure          PayloadType = "m.login.failure"
	PayloadSecrets          PayloadType = "m.login.secrets"
)

// FailureReason explains an m.login.failure payload.
type FailureReason string

const (
	ReasonCancelled            FailureReason = "cancelled"
	ReasonExpired              FailureReason = "expired"
	ReasonUserDeclined         FailureReason = "user_declined"
	ReasonUnsupportedProtocol  FailureReason = "unsupported_protocol"
	ReasonDeviceAlreadyExists  FailureReason = "device_already_exists"
	ReasonDeviceNotFound       FailureReason = "device_not_found"
	ReasonUnexpectedMessage    FailureReason = "unexpected_message_received"
	ReasonAuthorizationExpired FailureReason = "authorization_expired"
)

// ProtocolDeviceAuthorization is the only login protocol offered.
const ProtocolDeviceAuthorization = "device_authorization_grant"

// Payload is one login message. Fields irrelevant to Type are omitted.
type Payload struct {
	Type       PayloadType   `json:"type"`
	Protocols  []string      `json:"protocols,omitempty"`
	Protocol   string        `json:"protocol,omitempty"`
	Homeserver string        `json:"homeserver,omitempty"`
	DeviceID   string        `json:"device_id,omitempty"`
	DeviceKey  string        `json:"device_key,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	Reason     FailureReason `json:"reason,omitempty"`
	// Secrets carries cross-signing and backup secrets in m.login.secrets.
	Secrets map[string]string `json:"secrets,omitempty"`
}
