package crypto

import (
	"crypto/rand"
	"math/big"
)

const (
	txnAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// TxnIDLength is the length of identifiers returned by NewTxnID.
	TxnIDLength = 32
)

// NewTxnID returns a random identifier drawn uniformly from [A-Za-z0-9].
// It panics only if the system random source is broken.
func NewTxnID() string {
	max := big.NewInt(int64(len(txnAlphabet)))
	b := make([]byte, TxnIDLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto: random source failed: " + err.Error())
		}
		b[i] = txnAlphabet[n.Int64()]
	}
	return string(b)
}

// RandomBytes returns n bytes from the system random source.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
