package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version       byte = 1
	kindItem      byte = 1
	kindTombstone byte = 2
)

var (
	ErrCorrupt = errors.New("ddbcache: corrupt entry")
	magic4     = [...]byte{'D', 'D', 'B', 'C'}
)

const header = 4 + 1 + 1 + 8 + 4 // magic | ver | kind | storedAt | vlen

// Entry is one decoded cache record. A tombstone marks a key the backing
// store no longer has; it carries no payload.
type Entry struct {
	StoredAt  time.Time // millisecond precision
	Tombstone bool
	Payload   []byte
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func encode(kind byte, storedAt time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(header + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(storedAt.UnixMilli()))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// EncodeItem frames one codec payload:
//
//	magic(4) | ver(1) | kind(1=item) | storedAt unix-millis(u64 be) | vlen(u32 be) | payload(vlen)
func EncodeItem(storedAt time.Time, payload []byte) []byte {
	return encode(kindItem, storedAt, payload)
}

// EncodeTombstone frames a deletion marker. Same layout as EncodeItem with
// kind=tombstone and vlen=0.
func EncodeTombstone(storedAt time.Time) []byte {
	return encode(kindTombstone, storedAt, nil)
}

// Decode parses an entry. Anything this package did not write decodes as
// ErrCorrupt: bad magic, unknown version or kind, lengths that disagree with
// the buffer, trailing bytes, a tombstone carrying a payload. The returned
// payload aliases b (zero-copy).
func Decode(b []byte) (Entry, error) {
	if len(b) < header || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	kind := b[5]
	if kind != kindItem && kind != kindTombstone {
		return Entry{}, ErrCorrupt
	}

	off := 6

	ms := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact frame, no trailing bytes
		return Entry{}, ErrCorrupt
	}
	if kind == kindTombstone && vlen != 0 {
		return Entry{}, ErrCorrupt
	}

	e := Entry{
		StoredAt:  time.UnixMilli(int64(ms)),
		Tombstone: kind == kindTombstone,
	}
	if kind == kindItem {
		e.Payload = b[off : off+vlen]
	}
	return e, nil
}
