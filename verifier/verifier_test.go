package verifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var mockKey, digestKey [32]byte
	mockKey[0], digestKey[0] = 1, 2
	require.NoError(t, r.Register(mockKey, MockVerifier{}))
	require.NoError(t, r.Register(digestKey, DigestVerifier{}))

	assert.NoError(t, r.Verify(mockKey, []byte("inputs"), nil))
	assert.ErrorIs(t, r.Verify(mockKey, []byte("inputs"), []byte{0x01}), ErrProofRejected)

	proof := DigestVerifier{}.Prove(digestKey, []byte("inputs"))
	assert.NoError(t, r.Verify(digestKey, []byte("inputs"), proof))
	assert.ErrorIs(t, r.Verify(digestKey, []byte("other"), proof), ErrProofRejected)

	var unknown [32]byte
	unknown[0] = 9
	assert.ErrorIs(t, r.Verify(unknown, nil, nil), ErrUnknownKey)
}

func TestRegistryRejectsDuplicateAndNil(t *testing.T) {
	r := NewRegistry()
	var k [32]byte
	require.NoError(t, r.Register(k, MockVerifier{}))
	assert.Error(t, r.Register(k, MockVerifier{}))
	assert.Error(t, r.Register([32]byte{1}, nil))
}

func TestDigestVerifierBindsKey(t *testing.T) {
	d := DigestVerifier{}
	var a, b [32]byte
	b[31] = 1
	proof := d.Prove(a, []byte("x"))
	require.Len(t, proof, 32)
	err := d.Verify(b, []byte("x"), proof)
	assert.True(t, errors.Is(err, ErrProofRejected))
	assert.ErrorIs(t, d.Verify(a, []byte("x"), proof[:31]), ErrProofRejected)
}
