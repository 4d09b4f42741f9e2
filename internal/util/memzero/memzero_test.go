package memzero_test

import (
	"bytes"
	"testing"

	"devtrust/internal/util/memzero"
)

func TestZero(t *testing.T) {
	key := []byte("secret key material")
	memzero.Zero(key[:6])
	if !bytes.Equal(key[:6], make([]byte, 6)) || string(key[6:]) != " key material" {
		t.Fatalf("Zero wiped the wrong bytes: %q", key)
	}
	memzero.Zero(nil)
}
