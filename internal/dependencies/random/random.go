package random

import (
	"crypto/rand"
	"math/big"
)

// Random generates random strings and can be mocked for testing. Its
// one consumer is join-code allocation, which draws short strings from
// a restricted alphabet.
type Random interface {
	// String generates a random string of the given length from the given alphabet
	String(length int, alphabet string) string
}

// CryptoRandom implements Random using crypto/rand
type CryptoRandom struct{}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{}
}

// String generates a random string of the given length from the given alphabet
func (r *CryptoRandom) String(length int, alphabet string) string {
	if length <= 0 || len(alphabet) == 0 {
		return ""
	}
	max := big.NewInt(int64(len(alphabet)))
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail in practice; index 0 keeps the
			// output well-formed if it ever does
			n = big.NewInt(0)
		}
		result[i] = alphabet[n.Int64()]
	}
	return string(result)
}
