package crypto

import "golang.org/x/crypto/sha3"

// KeccakProvider computes legacy Keccak-256 (the pre-FIPS padding used by
// Ethereum), not SHA3-256.
type KeccakProvider struct{}

func (p KeccakProvider) Keccak256(parts ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range parts {
		_, _ = h.Write(b)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
