// Package persistpool is the process-wide persist thread pool (spec §4.3):
// the single owner of the block device that serves every log's reads and
// writes, tracks each log's last written version for crash-consistent
// Persist/GetLastPersisted semantics, and owns the device-wide free-segment
// bitmap. Its shape-a single goroutine draining a work queue, with a
// separate typed-error return path for every failure mode-is grounded on
// marketstore's executor/wal.go: WriteStatus owns the WAL file and the
// single writer goroutine that every instance's writes are funneled
// through; here that funnel is generalized from one WAL to an arbitrary
// number of logs sharing one device.
package persistpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/eapache/channels"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/alpacahq/spdklog/internal/blockdev"
	"github.com/alpacahq/spdklog/internal/entry"
	"github.com/alpacahq/spdklog/internal/log"
	"github.com/alpacahq/spdklog/internal/logerr"
	"github.com/alpacahq/spdklog/internal/logmeta"
	"github.com/alpacahq/spdklog/internal/segment"
)

// Stats is a snapshot of pool-wide diagnostics, rendered with bytefmt units
// via segment.Bitmap.CapacityString.
type Stats struct {
	Capacity     string
	AppendCount  uint64
	BytesWritten uint64
}

type appendEvent struct {
	bytes int
}

// Pool is the singleton persist thread pool. One Pool owns one device; every
// PersistentLog backed by that device routes reads, writes, and metadata
// commits through it.
type Pool struct {
	dev          blockdev.Device
	bitmap       *segment.Bitmap
	meta         *logmeta.Manager
	poolStartLBA int64
	bitmapLBAs   int64

	verMu          sync.RWMutex
	lastWrittenVer map[int32]*atomic.Int64

	events     channels.Channel
	eventsDone chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// New opens the device's geometry: a free-segment bitmap region starting at
// LBA 0, followed by the reserved metadata region (internal/logmeta), the
// segment pool filling the remainder. Both regions are sized from
// dev.Capacity() so they are recomputed identically every time the same
// device is reopened.
func New(ctx context.Context, dev blockdev.Device) (*Pool, error) {
	totalBytes := dev.Capacity() * blockdev.SectorSize
	upperSegments := int(totalBytes / segment.Size)
	if upperSegments < 2 {
		return nil, fmt.Errorf("persistpool: device too small: %d bytes", totalBytes)
	}

	bitmapLBAs := ceilDiv(int64(upperSegments), blockdev.SectorSize)
	metaLBA := bitmapLBAs
	poolStartLBA := metaLBA + logmeta.ReservedSectors()
	poolBytes := totalBytes - poolStartLBA*blockdev.SectorSize
	if poolBytes < segment.Size {
		return nil, fmt.Errorf("persistpool: device too small for metadata region plus one segment")
	}
	nSegments := int(poolBytes / segment.Size)

	raw := blockdev.AlignedBuffer(int(bitmapLBAs) * blockdev.SectorSize)
	if err := dev.ReadLBAs(ctx, 0, int(bitmapLBAs), raw); err != nil {
		return nil, &logerr.DeviceIOError{Op: "read bitmap region", Err: err}
	}
	bitmap := segment.LoadBitmap(raw[:nSegments])

	p := &Pool{
		dev:            dev,
		bitmap:         bitmap,
		meta:           logmeta.NewManager(dev, metaLBA),
		poolStartLBA:   poolStartLBA,
		bitmapLBAs:     bitmapLBAs,
		lastWrittenVer: make(map[int32]*atomic.Int64),
		events:         channels.NewInfiniteChannel(),
		eventsDone:     make(chan struct{}),
	}
	go p.consumeEvents()

	log.Info("persistpool: opened device: %d segments, %s", nSegments, bitmap.CapacityString())
	return p, nil
}

func (p *Pool) consumeEvents() {
	for raw := range p.events.Out() {
		ev, ok := raw.(appendEvent)
		if !ok {
			continue
		}
		p.statsMu.Lock()
		p.stats.AppendCount++
		p.stats.BytesWritten += uint64(ev.bytes)
		p.statsMu.Unlock()
	}
	close(p.eventsDone)
}

// Load registers name with the metadata manager, seeding this log's last
// written version tracker on first load (spec §4.3's last_written_ver[log_id]).
func (p *Pool) Load(ctx context.Context, name string) (logmeta.Record, error) {
	rec, err := p.meta.Load(ctx, name)
	if err != nil {
		return logmeta.Record{}, &logerr.MetadataLoadFailedError{Name: name, Err: err}
	}

	p.verMu.Lock()
	if _, ok := p.lastWrittenVer[rec.ID]; !ok {
		p.lastWrittenVer[rec.ID] = atomic.NewInt64(rec.Ver)
	}
	p.verMu.Unlock()
	return rec, nil
}

// LastWrittenVersion returns the most recently durably-written version for
// logID, used by Persist/GetLastPersisted at the facade layer.
func (p *Pool) LastWrittenVersion(logID int32) (int64, bool) {
	p.verMu.RLock()
	defer p.verMu.RUnlock()
	c, ok := p.lastWrittenVer[logID]
	if !ok {
		return 0, false
	}
	return c.Load(), true
}

// ReadEntry reads the LogEntry header at absolute index idx.
func (p *Pool) ReadEntry(ctx context.Context, rec logmeta.Record, idx int64) (entry.Entry, error) {
	if idx < rec.Head || idx >= rec.Tail {
		return entry.Entry{}, &logerr.NotFoundError{LogID: rec.ID, Key: fmt.Sprintf("index %d", idx)}
	}
	buf := make([]byte, entry.Size)
	tbl := rec.EntrySegTable
	if err := p.ioSpan(ctx, rec.ID, &tbl, idx*int64(entry.Size), buf, false, false); err != nil {
		return entry.Entry{}, err
	}
	return entry.Unmarshal(buf), nil
}

// ReadData reads the payload bytes for the entry at absolute index idx,
// looking up its length and data-space offset from the entry header first.
func (p *Pool) ReadData(ctx context.Context, rec logmeta.Record, idx int64) ([]byte, error) {
	e, err := p.ReadEntry(ctx, rec, idx)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, e.Dlen)
	tbl := rec.DataSegTable
	if err := p.ioSpan(ctx, rec.ID, &tbl, int64(e.Ofst), buf, false, false); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadLBA is a diagnostic escape hatch that reads one raw 4 KiB page
// starting at lba, bypassing segment translation entirely.
func (p *Pool) ReadLBA(ctx context.Context, lba int64) ([]byte, error) {
	const pageSectors = 4096 / blockdev.SectorSize
	buf := blockdev.AlignedBuffer(pageSectors * blockdev.SectorSize)
	if err := p.dev.ReadLBAs(ctx, lba, pageSectors, buf); err != nil {
		return nil, &logerr.DeviceIOError{Op: "read diagnostic page", Err: err}
	}
	return buf, nil
}

// Append writes payload as a new entry at rec.Tail, assigning it version
// ver and HLC (hlcR, hlcL). Per spec §4.3's crash-consistency ordering, the
// data bytes and entry header are written and the bitmap flushed before the
// root metadata record that makes them visible is committed: a crash before
// that commit leaves the new bytes as an orphaned, harmless allocation
// rather than a torn reference. Append rejects ver that does not strictly
// exceed the log's last written version (REDESIGN FLAG: hlc_r and hlc_l are
// assigned from the caller's two HLC fields independently, not the source's
// double assignment to hlc_l).
func (p *Pool) Append(ctx context.Context, rec logmeta.Record, ver int64, hlcR, hlcL uint64, payload []byte) (entry.Entry, logmeta.Record, error) {
	p.verMu.RLock()
	counter, ok := p.lastWrittenVer[rec.ID]
	p.verMu.RUnlock()
	if !ok {
		return entry.Entry{}, rec, fmt.Errorf("persistpool: log %d not loaded", rec.ID)
	}
	if last := counter.Load(); ver <= last {
		return entry.Entry{}, rec, &logerr.VersionRegressionError{LogID: rec.ID, Got: ver, Last: last}
	}

	e := entry.Entry{
		Ver:  ver,
		HLCR: hlcR,
		HLCL: hlcL,
		Dlen: uint64(len(payload)),
		Ofst: uint64(rec.DataTail),
	}

	if err := p.ioSpan(ctx, rec.ID, &rec.DataSegTable, rec.DataTail, payload, true, true); err != nil {
		return entry.Entry{}, rec, err
	}
	entryBytes := e.Marshal()
	if err := p.ioSpan(ctx, rec.ID, &rec.EntrySegTable, rec.Tail*int64(entry.Size), entryBytes, true, true); err != nil {
		return entry.Entry{}, rec, err
	}
	if err := p.persistBitmap(ctx); err != nil {
		return entry.Entry{}, rec, err
	}

	rec.Tail++
	rec.DataTail += int64(len(payload))
	rec.Ver = ver

	if err := p.meta.Commit(ctx, rec); err != nil {
		return entry.Entry{}, rec, &logerr.DeviceIOError{Op: "commit root record", Err: err}
	}
	counter.Store(ver)
	p.events.In() <- appendEvent{bytes: len(payload) + entry.Size}

	return e, rec, nil
}

// UpdateMetadata commits rec without writing a new entry, used by Trim,
// Truncate, and Zeroout to persist an updated Head/Tail/DataTail.
func (p *Pool) UpdateMetadata(ctx context.Context, rec logmeta.Record) (logmeta.Record, error) {
	if err := p.meta.Commit(ctx, rec); err != nil {
		return rec, &logerr.DeviceIOError{Op: "commit root record", Err: err}
	}
	return rec, nil
}

// Stats returns a snapshot of pool-wide diagnostics.
func (p *Pool) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return Stats{
		Capacity:     p.bitmap.CapacityString(),
		AppendCount:  p.stats.AppendCount,
		BytesWritten: p.stats.BytesWritten,
	}
}

// Close flushes the free-segment bitmap one last time, drains the stats
// event queue, and closes the device, aggregating any failures from the
// two independent shutdown steps rather than discarding all but the first.
func (p *Pool) Close(ctx context.Context) error {
	var err error
	if ferr := p.persistBitmap(ctx); ferr != nil {
		err = multierr.Append(err, ferr)
	}
	p.events.Close()
	<-p.eventsDone
	if cerr := p.dev.Close(); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	return err
}

func (p *Pool) persistBitmap(ctx context.Context) error {
	buf := blockdev.AlignedBuffer(int(p.bitmapLBAs) * blockdev.SectorSize)
	copy(buf, p.bitmap.Bytes())
	if err := p.dev.WriteLBAs(ctx, 0, int(p.bitmapLBAs), buf); err != nil {
		return &logerr.DeviceIOError{Op: "persist segment bitmap", Err: err}
	}
	return nil
}

func (p *Pool) physAddr(physSeg uint32, intraOffset int64) int64 {
	return p.poolStartLBA*blockdev.SectorSize + int64(physSeg)*segment.Size + intraOffset
}

// ioSpan reads or writes buf at the logical byte offset byteOffset within
// the address space described by tbl, splitting the transfer at segment
// boundaries since consecutive logical segments need not map to adjacent
// physical segments. When allocate is true and write is true, an
// unallocated logical segment is allocated from the device-wide bitmap and
// recorded in tbl before the write that depends on it (spec §4.2).
func (p *Pool) ioSpan(ctx context.Context, logID int32, tbl *segment.Table, byteOffset int64, buf []byte, write, allocate bool) error {
	pos, remaining := 0, len(buf)
	for remaining > 0 {
		logicalSeg, intra := segment.Translate(byteOffset)
		if logicalSeg >= segment.TableLength {
			return &logerr.LogFullError{LogID: logID}
		}

		physSeg, ok := tbl.PhysicalSegment(logicalSeg)
		if !ok {
			if !allocate {
				return &logerr.NotFoundError{LogID: logID, Key: fmt.Sprintf("segment %d", logicalSeg)}
			}
			seg, err := p.bitmap.Alloc()
			if err != nil {
				return &logerr.LogFullError{LogID: logID}
			}
			if err := tbl.Set(logicalSeg, seg); err != nil {
				return err
			}
			physSeg = seg
		}

		avail := int64(segment.Size) - intra
		chunk := int64(remaining)
		if chunk > avail {
			chunk = avail
		}
		addr := p.physAddr(physSeg, intra)
		if write {
			if err := blockdev.WriteAt(ctx, p.dev, addr, buf[pos:pos+int(chunk)]); err != nil {
				return &logerr.DeviceIOError{Op: "write segment span", Err: err}
			}
		} else {
			got, err := blockdev.ReadAt(ctx, p.dev, addr, int(chunk))
			if err != nil {
				return &logerr.DeviceIOError{Op: "read segment span", Err: err}
			}
			copy(buf[pos:], got)
		}

		pos += int(chunk)
		byteOffset += chunk
		remaining -= int(chunk)
	}
	return nil
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
