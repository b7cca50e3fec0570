package grpctransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodecName(t *testing.T) {
	assert.Equal(t, "hyperdmabuf-frame", frameCodec{}.Name())
}

func TestFrameCodecRoundTrip(t *testing.T) {
	c := frameCodec{}
	in := &rawFrame{data: []byte{1, 2, 3, 4, 5}}

	marshaled, err := c.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, in.data, marshaled)

	out := &rawFrame{}
	require.NoError(t, c.Unmarshal(marshaled, out))
	assert.Equal(t, in.data, out.data)
}

func TestFrameCodecRejectsWrongType(t *testing.T) {
	c := frameCodec{}

	_, err := c.Marshal("not a rawFrame")
	assert.Error(t, err)

	err = c.Unmarshal([]byte{1, 2, 3}, new(string))
	assert.Error(t, err)
}

func TestHandshakeRoundTrip(t *testing.T) {
	encoded := encodeHandshake(42)
	vm, ok := decodeHandshake(encoded)
	require.True(t, ok)
	assert.Equal(t, uint32(42), vm)
}

func TestDecodeHandshakeRejectsWrongLength(t *testing.T) {
	_, ok := decodeHandshake([]byte{1, 2, 3})
	assert.False(t, ok)
}
