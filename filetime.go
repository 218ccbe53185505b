package msicfb

import (
	"encoding/binary"
	"time"
)

// filetimeEpochOffset is the number of 100-nanosecond intervals between the
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochOffset = 116444736000000000

// ParseFILETIME reads an 8-byte little-endian Windows FILETIME — the number
// of 100-nanosecond intervals since 1601-01-01 — as used in a directory
// entry's creation/modified time fields.
//
// A directory entry may legitimately carry an all-zero FILETIME to mean
// "unset" (the root entry and freshly inserted stream nodes both do, per
// spec §3 Lifecycles); that case returns time.Time{} so callers can use
// time.Time.IsZero() to detect it.
func ParseFILETIME(b [8]byte) time.Time {
	ticks := binary.LittleEndian.Uint64(b[:])
	if ticks == 0 {
		return time.Time{}
	}
	unixTicks := int64(ticks) - filetimeEpochOffset
	return time.Unix(0, unixTicks*100).UTC()
}

// EncodeFILETIME converts t back to an 8-byte little-endian FILETIME. The
// zero Time encodes as an all-zero FILETIME, the inverse of ParseFILETIME.
func EncodeFILETIME(t time.Time) [8]byte {
	var b [8]byte
	if t.IsZero() {
		return b
	}
	ticks := uint64(t.UTC().UnixNano()/100 + filetimeEpochOffset)
	binary.LittleEndian.PutUint64(b[:], ticks)
	return b
}
