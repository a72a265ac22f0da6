// Package entry defines the fixed-size LogEntry header (spec §3) and its
// packed little-endian wire layout, shared by internal/persistpool (which
// reads and writes entry slots on the device) and the spdklog facade
// (which exposes entries to callers). Keeping it separate from both avoids
// an import cycle between the two.
package entry

import "github.com/alpacahq/spdklog/internal/wire"

// Size is the fixed, packed size in bytes of one LogEntry on the wire and
// on disk.
const Size = 40

// Entry is one LogEntry record: ver, hlc_r, hlc_l, dlen, ofst (spec §3).
type Entry struct {
	Ver  int64
	HLCR uint64
	HLCL uint64
	Dlen uint64
	Ofst uint64
}

// Marshal encodes e as Size little-endian bytes.
func (e Entry) Marshal() []byte {
	buf := make([]byte, 0, Size)
	buf = wire.PutInt64(buf, e.Ver)
	buf = wire.PutUint64(buf, e.HLCR)
	buf = wire.PutUint64(buf, e.HLCL)
	buf = wire.PutUint64(buf, e.Dlen)
	buf = wire.PutUint64(buf, e.Ofst)
	return buf
}

// Unmarshal decodes Size little-endian bytes into an Entry.
func Unmarshal(buf []byte) Entry {
	return Entry{
		Ver:  wire.Int64(buf[0:8]),
		HLCR: wire.Uint64(buf[8:16]),
		HLCL: wire.Uint64(buf[16:24]),
		Dlen: wire.Uint64(buf[24:32]),
		Ofst: wire.Uint64(buf[32:40]),
	}
}

// HLCLess reports whether (r1,l1) is lexicographically before (r2,l2),
// spec §3's "(hlc_r, hlc_l) lexicographic" ordering.
func HLCLess(r1, l1, r2, l2 uint64) bool {
	if r1 != r2 {
		return r1 < r2
	}
	return l1 < l2
}

// HLCEqual reports whether two HLC pairs are identical.
func HLCEqual(r1, l1, r2, l2 uint64) bool {
	return r1 == r2 && l1 == l2
}
