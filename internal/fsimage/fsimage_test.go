package fsimage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAndParseListEntryRoundTrip(t *testing.T) {
	blk := EncodeListBlock(MagicDir, "bin", []uint32{3, 1, 4, 1, 5})
	assert.Equal(t, MagicDir, blk.Magic())

	entry := ParseListEntry(&blk)
	assert.Equal(t, MagicDir, entry.Magic)
	assert.Equal(t, "bin", entry.Name)
	assert.Equal(t, []uint32{3, 1, 4, 1, 5}, entry.Children)
}

func TestEncodeListBlockTruncatesLongName(t *testing.T) {
	long := strings.Repeat("x", NameLen*2)
	blk := EncodeListBlock(MagicFile, long, nil)
	entry := ParseListEntry(&blk)
	assert.Len(t, entry.Name, NameLen-1)
}

func TestParseListEntryClampsOverlongCount(t *testing.T) {
	var b Block
	b[0], b[1], b[2], b[3] = 0x50, 0xD1, 0xAD, 0xDE // MagicDir, little-endian
	// Declare far more children than the block could possibly hold.
	b[4], b[5], b[6], b[7] = 0xFF, 0xFF, 0xFF, 0x7F

	entry := ParseListEntry(&b)
	assert.LessOrEqual(t, len(entry.Children), MaxEntries)
}

func TestDataPayloadRoundTrip(t *testing.T) {
	payload := []byte("hello, world")
	blocks := EncodeDataBlocks(payload)
	require.Len(t, blocks, 1)
	assert.Equal(t, payload, DataPayload(&blocks[0]))
}

func TestEncodeDataBlocksSplitsAcrossMultipleBlocks(t *testing.T) {
	payload := make([]byte, MaxDataPayload+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	blocks := EncodeDataBlocks(payload)
	require.Len(t, blocks, 2)

	first := DataPayload(&blocks[0])
	second := DataPayload(&blocks[1])
	assert.Len(t, first, MaxDataPayload)
	assert.Len(t, second, 100)
	assert.Equal(t, payload, append(append([]byte{}, first...), second...))
}

func TestEncodeDataBlocksEmptyPayload(t *testing.T) {
	blocks := EncodeDataBlocks(nil)
	require.Len(t, blocks, 1)
	assert.Empty(t, DataPayload(&blocks[0]))
}

func TestDataPayloadClampsOversizedDeclaration(t *testing.T) {
	var b Block
	// Declare a payload size larger than the block can actually hold.
	b[0], b[1], b[2], b[3] = 0xFF, 0xFF, 0xFF, 0x7F
	payload := DataPayload(&b)
	assert.Len(t, payload, MaxDataPayload)
}

func TestImageAppendAndBlock(t *testing.T) {
	img := &Image{}
	idx := img.Append(EncodeListBlock(MagicDir, "root", nil))
	assert.Equal(t, uint32(0), idx)

	root, ok := img.Root()
	require.True(t, ok)
	assert.Equal(t, MagicDir, root.Magic())

	_, ok = img.Block(5)
	assert.False(t, ok)
}
