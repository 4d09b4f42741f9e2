// Package loopback is an in-process stand-in for a home server. It carries
// to-device messages and a single shared room timeline between devices
// attached to the same Hub, which lets the CLI simulate a full verification
// without a network.
//
// Traffic is queued and only delivered by Flush, so a caller decides when
// each side observes the other.
package loopback
