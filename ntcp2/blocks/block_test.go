package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	bs := []Block{
		DateTime(1234567890),
		I2NPMessage([]byte("hello i2np")),
		Termination(42, ReasonIdleTimeout, nil),
		Padding([]byte{0x01, 0x02, 0x03}),
	}

	wire := EncodeBlocks(bs)
	decoded, err := DecodeBlocks(wire)
	require.NoError(t, err)
	require.Len(t, decoded, len(bs))

	for i, b := range bs {
		assert.Equal(t, b.Type, decoded[i].Type)
		assert.Equal(t, b.Payload, decoded[i].Payload)
	}
}

func TestDecodeBlocksTruncatedHeader(t *testing.T) {
	_, err := DecodeBlocks([]byte{0x03, 0x00})
	assert.Error(t, err)
}

func TestDecodeBlocksTruncatedPayload(t *testing.T) {
	_, err := DecodeBlocks([]byte{0x03, 0x00, 0x10, 0x01, 0x02})
	assert.Error(t, err)
}

func TestDecodeBlocksEmpty(t *testing.T) {
	decoded, err := DecodeBlocks(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestRouterInfoBlock(t *testing.T) {
	ri := []byte("fake-routerinfo-bytes")
	b := RouterInfo(0x01, ri)
	assert.Equal(t, TypeRouterInfo, b.Type)
	assert.Equal(t, byte(0x01), b.Payload[0])
	assert.Equal(t, ri, b.Payload[1:])
}

func TestTerminationBlockLayout(t *testing.T) {
	b := Termination(7, ReasonDataPhaseAEADFailure, nil)
	require.Len(t, b.Payload, 9)
	assert.Equal(t, byte(ReasonDataPhaseAEADFailure), b.Payload[8])
}
