// Package login runs the QR login exchange over an established rendezvous
// channel.
//
// The device that is already signed in offers the login protocols, the new
// device picks one and both sides swap device keys. Each side records the
// other's key in the trust store only after its user confirmed that both
// screens show the same check code.
package login
