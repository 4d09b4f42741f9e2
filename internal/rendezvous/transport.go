package rendezvous

import "context"

// Transport moves opaque bytes through a relay. Receive returns nil with
// no error when the relay has nothing new; the transport owns polling,
// retries and relay bookkeeping such as ETags.
type Transport interface {
	// Details returns the locator to embed in a code, creating the relay
	// session if needed.
	Details(ctx context.Context) (TransportDetails, error)
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	// Close ends the relay session.
	Close(ctx context.Context) error
}

// TransportFactory opens a transport to an existing relay session.
type TransportFactory func(details TransportDetails) (Transport, error)

// Transports maps transport types to their factories.
type Transports map[string]TransportFactory
