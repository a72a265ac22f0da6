// Package logmeta is the log metadata manager (spec §4.4): it loads and
// saves each log's root record from the device's reserved metadata region,
// assigns log ids, and enforces uniqueness of log names for the process
// lifetime. The double-buffered, generation-numbered commit scheme is
// grounded on marketstore's executor/wal.go WriteStatus (seek to a fixed
// header offset, write, Sync, seek back) generalized from a single
// in-place header to two alternating fixed-size slots so a crash mid-write
// never destroys the previously-committed copy (spec §4.3's crash
// consistency requirement). The in-memory name→id index is grounded on
// catalog.Directory's sync.Map-backed lookup (catalog/catalog.go).
package logmeta

import (
	"context"
	"fmt"
	"sync"

	"github.com/alpacahq/spdklog/internal/blockdev"
	"github.com/alpacahq/spdklog/internal/log"
	"github.com/alpacahq/spdklog/internal/segment"
	"github.com/alpacahq/spdklog/internal/wire"
)

// MaxNameLength bounds a log's name in the persisted record.
const MaxNameLength = 64

// MaxLogs bounds how many named logs the reserved region has slots for.
const MaxLogs = 256

// recordBodySize is the serialized size of a Record, excluding the
// generation and checksum trailer that distinguishes the two alternating
// copies.
const recordBodySize = MaxNameLength + 4 + 8 + 8 + 8 + 8 + 1 + segment.TableLength*4 + segment.TableLength*4

// recordSize is the full on-disk size of one copy of a Record.
const recordSize = recordBodySize + 8 + 16

// Record is the per-log root metadata record, spec §3/§6: "the root record
// written atomically to commit the above."
type Record struct {
	ID   int32
	Name string
	Head int64
	Tail int64
	Ver  int64

	// DataTail is the next free byte offset in this log's data-space
	// address range, spec §4.2's "two logical address spaces per log".
	DataTail int64

	InUse bool

	EntrySegTable segment.Table
	DataSegTable  segment.Table

	Generation uint64
	Checksum   [16]byte
}

func (r *Record) marshalBody() []byte {
	buf := make([]byte, 0, recordBodySize)
	nameBytes := make([]byte, MaxNameLength)
	copy(nameBytes, r.Name)
	buf = append(buf, nameBytes...)
	buf = wire.PutUint32(buf, uint32(r.ID))
	buf = wire.PutInt64(buf, r.Head)
	buf = wire.PutInt64(buf, r.Tail)
	buf = wire.PutInt64(buf, r.Ver)
	buf = wire.PutInt64(buf, r.DataTail)
	if r.InUse {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, v := range r.EntrySegTable {
		buf = wire.PutUint32(buf, v)
	}
	for _, v := range r.DataSegTable {
		buf = wire.PutUint32(buf, v)
	}
	return buf
}

// Marshal serializes r, including its generation and checksum, to exactly
// recordSize bytes.
func (r *Record) Marshal() []byte {
	body := r.marshalBody()
	out := make([]byte, 0, recordSize)
	out = append(out, body...)
	out = wire.PutUint64(out, r.Generation)
	sum := wire.Checksum128(body)
	r.Checksum = sum
	out = append(out, sum[:]...)
	return out
}

// unmarshal decodes buf (exactly recordSize bytes) into r, and reports
// whether its checksum is valid (i.e. this copy is not a torn write).
func unmarshal(buf []byte) (rec Record, ok bool) {
	if len(buf) < recordSize {
		return Record{}, false
	}
	body := buf[:recordBodySize]
	cursor := 0
	rec.Name = trimName(body[cursor : cursor+MaxNameLength])
	cursor += MaxNameLength
	rec.ID = int32(wire.Uint32(body[cursor : cursor+4]))
	cursor += 4
	rec.Head = wire.Int64(body[cursor : cursor+8])
	cursor += 8
	rec.Tail = wire.Int64(body[cursor : cursor+8])
	cursor += 8
	rec.Ver = wire.Int64(body[cursor : cursor+8])
	cursor += 8
	rec.DataTail = wire.Int64(body[cursor : cursor+8])
	cursor += 8
	rec.InUse = body[cursor] != 0
	cursor++
	for i := range rec.EntrySegTable {
		rec.EntrySegTable[i] = wire.Uint32(body[cursor : cursor+4])
		cursor += 4
	}
	for i := range rec.DataSegTable {
		rec.DataSegTable[i] = wire.Uint32(body[cursor : cursor+4])
		cursor += 4
	}
	rec.Generation = wire.Uint64(buf[recordBodySize : recordBodySize+8])
	copy(rec.Checksum[:], buf[recordBodySize+8:recordSize])

	want := wire.Checksum128(body)
	return rec, want == rec.Checksum
}

func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// sectorsPerRecord is how many device sectors one Record copy occupies.
func sectorsPerRecord() int {
	n := recordSize / blockdev.SectorSize
	if recordSize%blockdev.SectorSize != 0 {
		n++
	}
	return n
}

// Manager owns the reserved metadata region: slot assignment, the
// name→id index, and the double-buffered commit of each slot.
type Manager struct {
	mu   sync.Mutex // metadata_load_lock, spec §5
	dev  blockdev.Device
	byID map[int32]*slotState

	nextID  int32
	byName  map[string]int32
	loadLBA int64 // first LBA of the reserved region, after the free-segment bitmap
}

type slotState struct {
	record     Record
	generation uint64 // generation last written; next write uses generation+1
}

// NewManager creates a metadata manager whose reserved region begins at
// loadLBA (immediately after the free-segment bitmap, which is owned by
// internal/persistpool so the two reserved regions never overlap).
func NewManager(dev blockdev.Device, loadLBA int64) *Manager {
	return &Manager{
		dev:     dev,
		byID:    make(map[int32]*slotState),
		byName:  make(map[string]int32),
		loadLBA: loadLBA,
	}
}

func (m *Manager) slotLBA(slot int, copyIdx int) int64 {
	perSlot := int64(2 * sectorsPerRecord())
	return m.loadLBA + int64(slot)*perSlot + int64(copyIdx)*int64(sectorsPerRecord())
}

// Load scans the reserved region for a record named name. If found, it is
// rehydrated and its previously-assigned id returned. If not, a fresh slot
// is allocated, a zeroed record is written as its first generation, and
// the new id is returned. Load is idempotent: calling it twice for the
// same name within the process lifetime returns the same id without a
// second device scan, matching spec §4.4's "enforces that load for the
// same name returns the same id across the process lifetime."
func (m *Manager) Load(ctx context.Context, name string) (Record, error) {
	if len(name) > MaxNameLength {
		return Record{}, fmt.Errorf("logmeta: name %q exceeds %d bytes", name, MaxNameLength)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byName[name]; ok {
		return m.byID[id].record, nil
	}

	rec, slot, found, err := m.scanForName(ctx, name)
	if err != nil {
		return Record{}, fmt.Errorf("logmeta: scan for %q: %w", name, err)
	}
	if found {
		m.byName[name] = rec.ID
		m.byID[rec.ID] = &slotState{record: rec, generation: rec.Generation}
		if rec.ID >= m.nextID {
			m.nextID = rec.ID + 1
		}
		return rec, nil
	}

	newRec := Record{ID: slot, Name: name, InUse: true}
	st := &slotState{}
	if err := m.commitLocked(ctx, slot, newRec, st); err != nil {
		return Record{}, fmt.Errorf("logmeta: create %q: %w", name, err)
	}
	m.byName[name] = newRec.ID
	m.byID[newRec.ID] = st
	if newRec.ID >= m.nextID {
		m.nextID = newRec.ID + 1
	}
	log.Info("logmeta: created new log %q with id %d", name, newRec.ID)
	return newRec, nil
}

// scanForName reads every slot, preferring the highest-generation valid
// copy of each, until it finds one whose Name matches. It also returns the
// first slot index the device has never initialized, for use as a fresh
// assignment, and whether a match was found.
func (m *Manager) scanForName(ctx context.Context, name string) (rec Record, freeSlot int32, found bool, err error) {
	freeSlot = -1
	for slot := 0; slot < MaxLogs; slot++ {
		r, ok, readErr := m.readSlot(ctx, slot)
		if readErr != nil {
			return Record{}, 0, false, readErr
		}
		if !ok {
			if freeSlot == -1 {
				freeSlot = int32(slot)
			}
			continue
		}
		if r.Name == name {
			return r, 0, true, nil
		}
	}
	if freeSlot == -1 {
		return Record{}, 0, false, fmt.Errorf("logmeta: no free slot, %d logs already registered", MaxLogs)
	}
	return Record{}, freeSlot, false, nil
}

// readSlot returns the authoritative record for slot: whichever of its two
// copies has the higher valid generation. ok is false if neither copy has
// ever been written (both fail checksum validation against an all-zero
// buffer, which is what a freshly truncated device reads back as).
func (m *Manager) readSlot(ctx context.Context, slot int) (Record, bool, error) {
	var best Record
	var bestValid bool
	for copyIdx := 0; copyIdx < 2; copyIdx++ {
		buf := blockdev.AlignedBuffer(sectorsPerRecord() * blockdev.SectorSize)
		if err := m.dev.ReadLBAs(ctx, m.slotLBA(slot, copyIdx), sectorsPerRecord(), buf); err != nil {
			return Record{}, false, err
		}
		rec, ok := unmarshal(buf)
		if !ok {
			continue
		}
		if !bestValid || rec.Generation > best.Generation {
			best, bestValid = rec, true
		}
	}
	if !bestValid || best.Name == "" {
		return Record{}, false, nil
	}
	return best, true, nil
}

// Commit persists rec as the new authoritative state for its slot,
// alternating which of the two copies receives the write so a crash during
// the write leaves the other, previously-committed copy intact.
func (m *Manager) Commit(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.byID[rec.ID]
	if !ok {
		return fmt.Errorf("logmeta: commit: unknown log id %d", rec.ID)
	}
	return m.commitLocked(ctx, rec.ID, rec, st)
}

func (m *Manager) commitLocked(ctx context.Context, slot int32, rec Record, st *slotState) error {
	rec.Generation = st.generation + 1
	buf := rec.Marshal()
	padded := blockdev.AlignedBuffer(sectorsPerRecord() * blockdev.SectorSize)
	copy(padded, buf)

	copyIdx := int(rec.Generation % 2)
	if err := m.dev.WriteLBAs(ctx, m.slotLBA(int(slot), copyIdx), sectorsPerRecord(), padded); err != nil {
		return fmt.Errorf("write root record slot=%d gen=%d: %w", slot, rec.Generation, err)
	}
	st.record = rec
	st.generation = rec.Generation
	return nil
}

// ReservedSectors returns how many sectors the metadata region occupies, so
// callers can place the segment pool immediately after it.
func ReservedSectors() int64 {
	return int64(MaxLogs) * 2 * int64(sectorsPerRecord())
}
