package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdVerifierAggregateAndVerifyRoundTrip(t *testing.T) {
	v := NewThresholdVerifier()
	v.RegisterMember("a", []byte("pub-a"))
	v.RegisterMember("b", []byte("pub-b"))
	v.RegisterMember("c", []byte("pub-c"))

	message := []byte("root-authority-election")
	partials := []PartialSignature{
		{SignerID: "b", Signature: []byte("sig-b")},
		{SignerID: "a", Signature: []byte("sig-a")},
		{SignerID: "c", Signature: []byte("sig-c")},
	}

	aggregate, err := v.Aggregate(message, partials, 2)
	require.NoError(t, err)
	assert.True(t, v.Verify(message, partials, 2, aggregate))
}

func TestThresholdVerifierAggregateIsOrderIndependent(t *testing.T) {
	v := NewThresholdVerifier()
	v.RegisterMember("a", []byte("pub-a"))
	v.RegisterMember("b", []byte("pub-b"))

	message := []byte("msg")
	forward := []PartialSignature{
		{SignerID: "a", Signature: []byte("sig-a")},
		{SignerID: "b", Signature: []byte("sig-b")},
	}
	reversed := []PartialSignature{
		{SignerID: "b", Signature: []byte("sig-b")},
		{SignerID: "a", Signature: []byte("sig-a")},
	}

	aggA, err := v.Aggregate(message, forward, 2)
	require.NoError(t, err)
	aggB, err := v.Aggregate(message, reversed, 2)
	require.NoError(t, err)
	assert.Equal(t, aggA, aggB)
}

func TestThresholdVerifierAggregateInsufficientPartials(t *testing.T) {
	v := NewThresholdVerifier()
	v.RegisterMember("a", []byte("pub-a"))

	_, err := v.Aggregate([]byte("msg"), []PartialSignature{{SignerID: "a", Signature: []byte("sig-a")}}, 2)
	assert.Error(t, err)
}

func TestThresholdVerifierAggregateUnknownMember(t *testing.T) {
	v := NewThresholdVerifier()
	v.RegisterMember("a", []byte("pub-a"))

	_, err := v.Aggregate([]byte("msg"), []PartialSignature{
		{SignerID: "a", Signature: []byte("sig-a")},
		{SignerID: "ghost", Signature: []byte("sig-x")},
	}, 2)
	assert.Error(t, err)
}

func TestThresholdVerifierVerifyRejectsTamperedAggregate(t *testing.T) {
	v := NewThresholdVerifier()
	v.RegisterMember("a", []byte("pub-a"))
	v.RegisterMember("b", []byte("pub-b"))

	partials := []PartialSignature{
		{SignerID: "a", Signature: []byte("sig-a")},
		{SignerID: "b", Signature: []byte("sig-b")},
	}
	aggregate, err := v.Aggregate([]byte("msg"), partials, 2)
	require.NoError(t, err)

	tampered := append([]byte(nil), aggregate...)
	tampered[0] ^= 0xFF
	assert.False(t, v.Verify([]byte("msg"), partials, 2, tampered))
}
