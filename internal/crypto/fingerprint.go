package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintBytes is how much of the key hash users compare.
const fingerprintBytes = 10

// Fingerprint returns the form of a public key users compare by eye: the
// first ten bytes of its SHA-256 hash as upper-case hex, in groups of four.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	h := strings.ToUpper(hex.EncodeToString(sum[:fingerprintBytes]))
	var b strings.Builder
	for i := 0; i < len(h); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(h[i:min(i+4, len(h))])
	}
	return b.String()
}
