// Package domain defines core data models and interfaces shared across the app.
// It contains plain types (ids, keys, identities) and contracts (transports,
// stores, services) only. The home-server transports are consumed through
// the interfaces here and never implemented in this module outside tests
// and the in-memory simulation.
package domain
