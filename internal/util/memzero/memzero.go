// Package memzero wipes key material once it is no longer needed.
package memzero

import "runtime"

// Zero overwrites b with zeros. The write is kept alive so the compiler
// cannot drop it as a dead store.
func Zero(b []byte) {
	clear(b)
	runtime.KeepAlive(b)
}
