package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f := EncodeExport(42, 0x0100_0007, [3]uint32{1, 2, 3}, 4, 0, 128, 99)

	data, err := Marshal(f)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeHandleRoundTrip(t *testing.T) {
	f := EncodeNotifyUnexport(7, 0x0200_0003, [3]uint32{9, 8, 7})

	id, key := DecodeHandle(f)
	assert.Equal(t, uint32(0x0200_0003), id)
	assert.Equal(t, [3]uint32{9, 8, 7}, key)
}

func TestEncodeOpsToSourceCarriesOpCode(t *testing.T) {
	f := EncodeOpsToSource(3, 1, [3]uint32{}, OpKmap)
	assert.Equal(t, uint32(CommandOpsToSource), f.Command)
	assert.Equal(t, uint32(OpKmap), f.Operands[4])
}

func TestEncodeExportFdFailedSetsDistinctCommand(t *testing.T) {
	ok := EncodeExportFd(1, 1, [3]uint32{}, false)
	failed := EncodeExportFd(1, 1, [3]uint32{}, true)
	assert.Equal(t, uint32(CommandExportFd), ok.Command)
	assert.Equal(t, uint32(CommandExportFdFailed), failed.Command)
}

func TestCommandAndStatusStrings(t *testing.T) {
	assert.Equal(t, "EXPORT", CommandExport.String())
	assert.Equal(t, "OPS_TO_REMOTE", CommandOpsToRemote.String())
	assert.Equal(t, "PROCESSED", StatusProcessed.String())
	assert.Equal(t, "NOT_RESPONDED", Status(99).String())
}
