package crypto

import "crypto/sha256"

// Sum returns the SHA-256 digest of b. Every id in this module (block
// ids, certificate digests) is derived from this single hash function;
// there is no cryptographic reason to prefer a third-party hash over
// the standard library's constant-time, well-audited implementation
// here, so this stays on crypto/sha256 the way the teacher's own
// tmhash package is a thin wrapper over the same primitive.
func Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
