package verifier

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/shanmukanaks/protocol/crypto"
)

var (
	ErrUnknownKey    = errors.New("verifier: unknown verification key")
	ErrProofRejected = errors.New("verifier: proof rejected")
)

// Backend checks a proof against public inputs for one verification key.
type Backend interface {
	Verify(vkey [32]byte, publicInputs []byte, proof []byte) error
}

// Registry dispatches verification to the backend registered for a key.
type Registry struct {
	mu       sync.RWMutex
	backends map[[32]byte]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[[32]byte]Backend)}
}

func (r *Registry) Register(vkey [32]byte, b Backend) error {
	if b == nil {
		return errors.New("verifier: nil backend")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[vkey]; ok {
		return fmt.Errorf("verifier: key %s already registered", hex.EncodeToString(vkey[:]))
	}
	r.backends[vkey] = b
	return nil
}

func (r *Registry) Verify(vkey [32]byte, publicInputs []byte, proof []byte) error {
	r.mu.RLock()
	b, ok := r.backends[vkey]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, hex.EncodeToString(vkey[:]))
	}
	return b.Verify(vkey, publicInputs, proof)
}

// MockVerifier accepts only empty proofs. Development networks run with it
// when no proving backend is deployed.
type MockVerifier struct{}

func (MockVerifier) Verify(_ [32]byte, _ []byte, proof []byte) error {
	if len(proof) != 0 {
		return fmt.Errorf("%w: mock verifier expects an empty proof", ErrProofRejected)
	}
	return nil
}

// DigestVerifier accepts proof == keccak256(vkey || publicInputs). It binds
// proofs to their inputs without a proving system.
type DigestVerifier struct {
	Hasher crypto.Hasher
}

func (d DigestVerifier) hasher() crypto.Hasher {
	if d.Hasher == nil {
		return crypto.Default
	}
	return d.Hasher
}

func (d DigestVerifier) Prove(vkey [32]byte, publicInputs []byte) []byte {
	sum := d.hasher().Keccak256(vkey[:], publicInputs)
	return sum[:]
}

func (d DigestVerifier) Verify(vkey [32]byte, publicInputs []byte, proof []byte) error {
	want := d.hasher().Keccak256(vkey[:], publicInputs)
	if len(proof) != len(want) || [32]byte(proof) != want {
		return fmt.Errorf("%w: digest mismatch", ErrProofRejected)
	}
	return nil
}
