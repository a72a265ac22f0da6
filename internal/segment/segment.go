// Package segment implements the device-wide free-segment bitmap and the
// per-log logical-to-physical address table (spec §4.2). The bitmap scan is
// grounded on pp2's balloc package (balloc/bitmap.go, balloc/balloc.go): a
// first-fit scan over a byte slice where a non-zero byte means "in use".
// The per-log address table is grounded on pp2's inode/indirect.go: a
// fixed-length array of physical block numbers indexed by logical block
// number, populated lazily as new logical positions are first touched.
package segment

import (
	"fmt"
	"sync"

	"code.cloudfoundry.org/bytefmt"
)

// Bit is the log2 of the segment size in bytes, matching SPDK_SEGMENT_BIT.
const Bit = 21 // 2 MiB segments

// Size is the fixed span, in bytes, of one segment.
const Size = 1 << Bit

// TableLength bounds how many logical segments a single log's entry-space
// or data-space table may reference, matching
// SPDK_LOG_ENTRY_ADDRESS_TABLE_LENGTH.
const TableLength = 1024

// ErrNoFreeSegments is returned by Bitmap.Alloc when the device is full.
type ErrNoFreeSegments struct{}

func (ErrNoFreeSegments) Error() string { return "segment: no free segments on device" }

// Bitmap is a device-wide free-segment bitmap. Its own mutex serializes
// Alloc, Free and the read-only queries, so logs sharing one device may
// allocate concurrently without an outer lock.
type Bitmap struct {
	mu   sync.Mutex
	bits []byte // one byte per segment; 0 == free, 1 == in use
}

// NewBitmap creates a bitmap covering nSegments segments. Physical segment
// 0 is marked in-use from the start and never handed out by Alloc, so a
// zero-valued Table entry unambiguously means "never allocated" rather
// than colliding with a real allocation of segment 0.
func NewBitmap(nSegments int) *Bitmap {
	bits := make([]byte, nSegments)
	if nSegments > 0 {
		bits[0] = 1
	}
	return &Bitmap{bits: bits}
}

// LoadBitmap reconstructs a bitmap from its persisted byte-per-segment
// representation (as written by Bytes), re-asserting the segment-0
// reservation so a never-before-written (all-zero) region still comes back
// with segment 0 unavailable.
func LoadBitmap(raw []byte) *Bitmap {
	bits := make([]byte, len(raw))
	copy(bits, raw)
	if len(bits) > 0 {
		bits[0] = 1
	}
	return &Bitmap{bits: bits}
}

// Bytes returns the persisted representation of the bitmap. The caller must
// not mutate the segment index concurrently with the returned slice.
func (b *Bitmap) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// Alloc finds the first free segment, marks it in use, and returns its
// physical segment number.
func (b *Bitmap) Alloc() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, inUse := range b.bits {
		if inUse == 0 {
			b.bits[i] = 1
			return uint32(i), nil
		}
	}
	return 0, ErrNoFreeSegments{}
}

// Free releases a previously allocated physical segment number.
func (b *Bitmap) Free(segNo uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(segNo) >= len(b.bits) {
		return fmt.Errorf("segment: free: %d out of range", segNo)
	}
	if b.bits[segNo] == 0 {
		return fmt.Errorf("segment: double free of segment %d", segNo)
	}
	b.bits[segNo] = 0
	return nil
}

// FreeCount returns the number of unallocated segments, used for capacity
// diagnostics (spec §4.3's device-capacity reporting).
func (b *Bitmap) FreeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, inUse := range b.bits {
		if inUse == 0 {
			n++
		}
	}
	return n
}

// CapacityString renders the bitmap's total and free space in human units,
// e.g. "4.0G total, 3.5G free", for log lines and Pool.Stats().
func (b *Bitmap) CapacityString() string {
	b.mu.Lock()
	total := len(b.bits)
	free := 0
	for _, inUse := range b.bits {
		if inUse == 0 {
			free++
		}
	}
	b.mu.Unlock()
	return fmt.Sprintf("%s total, %s free",
		bytefmt.ByteSize(uint64(total)*Size), bytefmt.ByteSize(uint64(free)*Size))
}

// Table is a per-log logical-segment to physical-segment address table,
// bounded at TableLength entries. Zero means "not yet allocated": Bitmap
// reserves physical segment 0 so that sentinel can never collide with a
// real allocation.
type Table [TableLength]uint32

// PhysicalSegment returns the physical segment number for logical segment
// logicalSeg, or false if it has never been allocated.
func (t *Table) PhysicalSegment(logicalSeg int) (uint32, bool) {
	if logicalSeg < 0 || logicalSeg >= TableLength {
		return 0, false
	}
	phys := t[logicalSeg]
	return phys, phys != 0
}

// Set records the physical segment backing a logical segment. Called by the
// persist pool before the data write that depends on it is submitted, per
// spec §4.2: "recorded by updating the table before the data write
// commits."
func (t *Table) Set(logicalSeg int, physicalSeg uint32) error {
	if logicalSeg < 0 || logicalSeg >= TableLength {
		return fmt.Errorf("segment: logical segment %d out of range [0,%d)", logicalSeg, TableLength)
	}
	t[logicalSeg] = physicalSeg
	return nil
}

// Translate maps a logical byte offset within a log's entry space or data
// space to the segment-relative pieces a caller needs to build an LBA:
// the logical segment index and the intra-segment byte offset.
func Translate(byteOffset int64) (logicalSeg int, intraOffset int64) {
	logicalSeg = int(byteOffset >> Bit)
	intraOffset = byteOffset & (Size - 1)
	return logicalSeg, intraOffset
}
