package redo

import (
	"bytes"
	"testing"

	"github.com/chainvault/chainvault/internal/eventmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentHeaderRoundTrip(t *testing.T) {
	h := SegmentHeader{Version: headerVersion, DefaultFormat: eventmodel.FormatJSON, CutOffMs: 12345}
	var buf bytes.Buffer
	require.NoError(t, writeSegmentHeader(&buf, h))

	got, err := readSegmentHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadSegmentHeaderBadMagic(t *testing.T) {
	_, err := readSegmentHeader(bytes.NewReader([]byte("NOPE1234567890")))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	meta := eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "row-1"}}
	entry := LogEntry{
		Header: eventmodel.EventHeaderRaw{Format: eventmodel.FormatJSON},
		Meta:   meta,
		Data:   []byte("payload bytes"),
	}

	raw, err := encodeRecord(entry)
	require.NoError(t, err)

	got, consumed, err := decodeRecord(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, len(raw), consumed)
	assert.Equal(t, entry.Meta, got.Meta)
	assert.Equal(t, entry.Data, got.Data)
	assert.Equal(t, uint32(len(entry.Data)), got.Header.DataLen)
	assert.False(t, got.Header.DataHash.IsZero())
}

func TestEncodeDecodeRecordNoPayload(t *testing.T) {
	meta := eventmodel.Metadata{eventmodel.Tombstone{PrimaryKey: "row-2"}}
	entry := LogEntry{
		Header: eventmodel.EventHeaderRaw{Format: eventmodel.FormatBinary},
		Meta:   meta,
	}

	raw, err := encodeRecord(entry)
	require.NoError(t, err)

	got, _, err := decodeRecord(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Nil(t, got.Data)
	assert.Equal(t, uint32(0), got.Header.DataLen)
	assert.True(t, got.Header.DataHash.IsZero())
}

func TestDecodeRecordTruncated(t *testing.T) {
	meta := eventmodel.Metadata{eventmodel.DataKey{PrimaryKey: "x"}}
	entry := LogEntry{Header: eventmodel.EventHeaderRaw{Format: eventmodel.FormatJSON}, Meta: meta, Data: []byte("abc")}
	raw, err := encodeRecord(entry)
	require.NoError(t, err)

	_, _, err = decodeRecord(bytes.NewReader(raw[:len(raw)-2]))
	assert.ErrorIs(t, err, ErrTruncatedRecord)
}
