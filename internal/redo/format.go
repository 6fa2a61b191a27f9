// Package redo implements the segmented, append-only record store that
// backs every chain: numbered segment files, random-access reads via a
// hash→offset lookup, and copy-on-write compaction through a flip file.
package redo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// magic begins every segment file, exactly four bytes.
var magic = [4]byte{'R', 'E', 'D', 'O'}

const headerVersion uint16 = 1

// SegmentHeader is the per-segment header block following the magic:
// a version tag, the chain's format configuration, and the cut_off
// timestamp below which no retained event should exist.
type SegmentHeader struct {
	Version       uint16
	DefaultFormat eventmodel.Format
	CutOffMs      int64
}

func writeSegmentHeader(w io.Writer, h SegmentHeader) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, h.Version)
	buf.WriteByte(byte(h.DefaultFormat))
	binary.Write(&buf, binary.BigEndian, h.CutOffMs)
	_, err := w.Write(buf.Bytes())
	return err
}

// ErrBadMagic is returned when a segment file does not begin with the
// expected 4-byte magic; FileLog's Open then fails for the whole log.
var ErrBadMagic = errors.New("redo: segment magic mismatch")

func readSegmentHeader(r io.Reader) (SegmentHeader, error) {
	var m [4]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return SegmentHeader{}, err
	}
	if m != magic {
		return SegmentHeader{}, ErrBadMagic
	}
	var h SegmentHeader
	if err := binary.Read(r, binary.BigEndian, &h.Version); err != nil {
		return SegmentHeader{}, err
	}
	var formatByte [1]byte
	if _, err := io.ReadFull(r, formatByte[:]); err != nil {
		return SegmentHeader{}, err
	}
	h.DefaultFormat = eventmodel.Format(formatByte[0])
	if err := binary.Read(r, binary.BigEndian, &h.CutOffMs); err != nil {
		return SegmentHeader{}, err
	}
	return h, nil
}

const segmentHeaderSize = 4 + 2 + 1 + 8 // magic + version + format + cutoff

// LogEntry is the unit of append/read: a header plus its metadata and
// optional payload bytes, the value the on-disk framing must round-trip
// exactly (testable property 2).
type LogEntry struct {
	Header eventmodel.EventHeaderRaw
	Meta   eventmodel.Metadata
	Data   []byte // nil if no payload
}

// encodeRecord serializes one record as:
// [format_tag u8][meta_len u32][meta_bytes][data_len u32][data_bytes?]
func encodeRecord(e LogEntry) ([]byte, error) {
	metaBytes, err := eventmodel.EncodeMetadata(e.Header.Format, e.Meta)
	if err != nil {
		return nil, fmt.Errorf("redo: encode metadata: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Header.Format))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metaBytes)))
	buf.Write(lenBuf[:])
	buf.Write(metaBytes)
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.Data)))
	buf.Write(lenBuf[:])
	if len(e.Data) > 0 {
		buf.Write(e.Data)
	}
	return buf.Bytes(), nil
}

// ErrTruncatedRecord is returned when a record's framed length extends
// past the bytes actually available (a trailing partial write).
var ErrTruncatedRecord = errors.New("redo: truncated record")

// decodeRecord reads one record from r, returning the entry and the
// number of bytes consumed.
func decodeRecord(r *bytes.Reader) (LogEntry, int, error) {
	start := r.Len()
	var formatByte [1]byte
	if _, err := io.ReadFull(r, formatByte[:]); err != nil {
		return LogEntry{}, 0, err
	}
	format := eventmodel.Format(formatByte[0])

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return LogEntry{}, 0, ErrTruncatedRecord
	}
	metaLen := binary.BigEndian.Uint32(lenBuf[:])
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return LogEntry{}, 0, ErrTruncatedRecord
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return LogEntry{}, 0, ErrTruncatedRecord
	}
	dataLen := binary.BigEndian.Uint32(lenBuf[:])
	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return LogEntry{}, 0, ErrTruncatedRecord
		}
	}

	meta, err := eventmodel.DecodeMetadata(format, metaBytes)
	if err != nil {
		return LogEntry{}, 0, fmt.Errorf("redo: decode metadata: %w", err)
	}

	header := eventmodel.EventHeaderRaw{
		MetaHash: eventmodel.Sum(metaBytes),
		MetaLen:  metaLen,
		DataLen:  dataLen,
		Format:   format,
	}
	if dataLen > 0 {
		header.DataHash = eventmodel.Sum(data)
	}

	consumed := start - r.Len()
	return LogEntry{Header: header, Meta: meta, Data: data}, consumed, nil
}
