package crypto

// Hasher is the narrow hashing interface used by the light client and the
// proof verifier backends. Implementations must be safe for concurrent use.
type Hasher interface {
	Keccak256(parts ...[]byte) [32]byte
}

// Default is the hasher used when callers do not inject one.
var Default Hasher = KeccakProvider{}
