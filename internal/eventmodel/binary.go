package eventmodel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// binaryCodec implements the compact-binary metadata wire format. Each
// metadata record kind has a small, fixed shape, so explicit field
// writers give a smaller and more predictable byte layout than a
// reflection-based generic codec would, the same reasoning that drives
// this package's custom redo-log record framing.
type binaryCodec struct{}

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(ss)))
	buf.Write(n[:])
	for _, s := range ss {
		writeString(buf, s)
	}
}

func readStrings(r *bytes.Reader) ([]string, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(n[:])
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeAuthOption(buf *bytes.Buffer, o AuthOption) {
	writeString(buf, string(o.Mode))
	writeString(buf, o.KeyHash)
	writeStrings(buf, o.KeyHashes)
	writeUint64(buf, uint64(o.Threshold))
}

func readAuthOption(r *bytes.Reader) (AuthOption, error) {
	var o AuthOption
	mode, err := readString(r)
	if err != nil {
		return o, err
	}
	o.Mode = AuthMode(mode)
	if o.KeyHash, err = readString(r); err != nil {
		return o, err
	}
	if o.KeyHashes, err = readStrings(r); err != nil {
		return o, err
	}
	threshold, err := readUint64(r)
	if err != nil {
		return o, err
	}
	o.Threshold = int(threshold)
	return o, nil
}

// Encode serializes Metadata into the compact binary wire format.
func (binaryCodec) Encode(m Metadata) ([]byte, error) {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(len(m)))
	for _, rec := range m {
		writeString(&buf, string(rec.Kind()))
		switch r := rec.(type) {
		case DataKey:
			writeString(&buf, r.PrimaryKey)
		case Parent:
			writeString(&buf, r.CollectionID)
			writeString(&buf, r.ParentKey)
		case Tombstone:
			writeString(&buf, r.PrimaryKey)
		case Authorization:
			writeAuthOption(&buf, r.Read)
			writeAuthOption(&buf, r.Write)
		case PublicKey:
			writeString(&buf, r.KeyHash)
			writeString(&buf, r.Key)
		case Signature:
			writeString(&buf, r.PublicKeyHash)
			writeStrings(&buf, r.SignedHashes)
			writeString(&buf, r.SignatureBytes)
		case SignWith:
			writeStrings(&buf, r.KeyHashes)
		case Timestamp:
			writeUint64(&buf, uint64(r.MsSinceEpoch))
		case Type:
			writeString(&buf, r.Name)
		case Reply:
			writeString(&buf, r.PrimaryKey)
		case Author:
			writeString(&buf, r.Identity)
		default:
			return nil, fmt.Errorf("eventmodel: binary codec: unsupported record kind %q", rec.Kind())
		}
	}
	return buf.Bytes(), nil
}

// Decode parses the compact binary wire format back into Metadata.
func (binaryCodec) Decode(data []byte) (Metadata, error) {
	r := bytes.NewReader(data)
	count, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	out := make(Metadata, 0, count)
	for i := uint64(0); i < count; i++ {
		kindStr, err := readString(r)
		if err != nil {
			return nil, err
		}
		kind := Kind(kindStr)
		rec, err := decodeBinaryRecord(kind, r)
		if err != nil {
			return nil, fmt.Errorf("eventmodel: binary codec: record %d (%s): %w", i, kind, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeBinaryRecord(kind Kind, r *bytes.Reader) (Record, error) {
	switch kind {
	case KindDataKey:
		s, err := readString(r)
		return DataKey{PrimaryKey: s}, err
	case KindParent:
		cid, err := readString(r)
		if err != nil {
			return nil, err
		}
		pk, err := readString(r)
		return Parent{CollectionID: cid, ParentKey: pk}, err
	case KindTombstone:
		s, err := readString(r)
		return Tombstone{PrimaryKey: s}, err
	case KindAuthorization:
		read, err := readAuthOption(r)
		if err != nil {
			return nil, err
		}
		write, err := readAuthOption(r)
		return Authorization{Read: read, Write: write}, err
	case KindPublicKey:
		hash, err := readString(r)
		if err != nil {
			return nil, err
		}
		key, err := readString(r)
		return PublicKey{KeyHash: hash, Key: key}, err
	case KindSignature:
		hash, err := readString(r)
		if err != nil {
			return nil, err
		}
		hashes, err := readStrings(r)
		if err != nil {
			return nil, err
		}
		sig, err := readString(r)
		return Signature{PublicKeyHash: hash, SignedHashes: hashes, SignatureBytes: sig}, err
	case KindSignWith:
		hashes, err := readStrings(r)
		return SignWith{KeyHashes: hashes}, err
	case KindTimestamp:
		ms, err := readUint64(r)
		return Timestamp{MsSinceEpoch: int64(ms)}, err
	case KindType:
		name, err := readString(r)
		return Type{Name: name}, err
	case KindReply:
		pk, err := readString(r)
		return Reply{PrimaryKey: pk}, err
	case KindAuthor:
		id, err := readString(r)
		return Author{Identity: id}, err
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}
