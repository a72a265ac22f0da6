// Package blockdev is the thin adapter over a polled user-space NVMe queue
// pair that the rest of spdklog is built on (spec §4.1). There is no SPDK
// binding available to a portable Go build, so QueuePair emulates "submit
// read/write, observe completion by polling" over a single backing
// *os.File: one goroutine per queue pair drains a channel of in-flight
// requests and signals each caller's completion channel, which is the same
// shape as marketstore's WAL sync goroutine (executor/wal.go's SyncWAL)
// draining a work channel on a ticker, generalized here to drain as fast as
// requests arrive rather than on a timer.
package blockdev

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/alpacahq/spdklog/internal/log"
)

// SectorSize is the minimum aligned unit of LBA-addressed I/O.
const SectorSize = 512

// Device is the call surface every other spdklog component routes device
// I/O through. It is implemented by *QueuePair; tests may substitute a
// fake.
type Device interface {
	ReadLBAs(ctx context.Context, lba int64, count int, buf []byte) error
	WriteLBAs(ctx context.Context, lba int64, count int, buf []byte) error
	Capacity() int64
	Close() error
}

type ioOp struct {
	write bool
	lba   int64
	count int
	buf   []byte
	done  chan error
}

// QueuePair owns one backing file and one poller goroutine, matching the
// spec's "a single queue pair is owned by the persist thread pool; all
// other components route I/O through it."
type QueuePair struct {
	fp       *os.File
	capacity int64 // in sectors

	submit chan *ioOp
	wg     sync.WaitGroup
	closed chan struct{}
}

// Open opens path as the backing store for a queue pair. If the file is
// new (or exists but is empty) it is truncated to sizeBytes, matching how
// SPDK namespaces are pre-sized; a non-empty existing file's size is used
// instead and sizeBytes is ignored.
func Open(path string, sizeBytes int64) (*QueuePair, error) {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|directFlag(), 0o600)
	if err != nil {
		// O_DIRECT is refused by some filesystems (tmpfs, overlayfs); fall
		// back to buffered I/O rather than fail the whole device open.
		fp, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
		}
	}

	fi, err := fp.Stat()
	if err != nil {
		fp.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		if err := fp.Truncate(sizeBytes); err != nil {
			fp.Close()
			return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
		}
		fi, err = fp.Stat()
		if err != nil {
			fp.Close()
			return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
		}
	}

	qp := &QueuePair{
		fp:       fp,
		capacity: fi.Size() / SectorSize,
		submit:   make(chan *ioOp, 1024),
		closed:   make(chan struct{}),
	}
	qp.wg.Add(1)
	go qp.poll()
	return qp, nil
}

func (qp *QueuePair) poll() {
	defer qp.wg.Done()
	for {
		select {
		case op, ok := <-qp.submit:
			if !ok {
				return
			}
			op.done <- qp.complete(op)
		case <-qp.closed:
			return
		}
	}
}

func (qp *QueuePair) complete(op *ioOp) error {
	offset := op.lba * SectorSize
	want := op.count * SectorSize
	if len(op.buf) < want {
		return fmt.Errorf("blockdev: buffer too small: have %d bytes, need %d", len(op.buf), want)
	}
	var err error
	if op.write {
		_, err = qp.fp.WriteAt(op.buf[:want], offset)
	} else {
		_, err = qp.fp.ReadAt(op.buf[:want], offset)
	}
	return err
}

func (qp *QueuePair) enqueue(ctx context.Context, op *ioOp) error {
	op.done = make(chan error, 1)
	select {
	case qp.submit <- op:
	case <-qp.closed:
		return fmt.Errorf("blockdev: queue pair closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLBAs submits a read for count sectors beginning at lba and blocks
// until the completion is observed.
func (qp *QueuePair) ReadLBAs(ctx context.Context, lba int64, count int, buf []byte) error {
	if err := qp.enqueue(ctx, &ioOp{write: false, lba: lba, count: count, buf: buf}); err != nil {
		return fmt.Errorf("blockdev: read lba=%d count=%d: %w", lba, count, err)
	}
	return nil
}

// WriteLBAs submits a write for count sectors beginning at lba and blocks
// until the completion is observed. Per spec §4.3, callers that need
// ordering across multiple WriteLBAs calls (data, then entry, then root)
// must await each completion before submitting the next.
func (qp *QueuePair) WriteLBAs(ctx context.Context, lba int64, count int, buf []byte) error {
	if err := qp.enqueue(ctx, &ioOp{write: true, lba: lba, count: count, buf: buf}); err != nil {
		return fmt.Errorf("blockdev: write lba=%d count=%d: %w", lba, count, err)
	}
	return nil
}

// Capacity returns the device size in sectors.
func (qp *QueuePair) Capacity() int64 {
	return qp.capacity
}

// Close stops the poller and syncs+closes the backing file.
func (qp *QueuePair) Close() error {
	close(qp.closed)
	qp.wg.Wait()
	if err := qp.fp.Sync(); err != nil {
		log.Warn("blockdev: sync on close failed: %v", err)
	}
	return qp.fp.Close()
}

// AlignedBuffer allocates a zeroed buffer of n bytes, rounded up to a whole
// number of sectors, whose first byte sits on a 4 KiB boundary. O_DIRECT
// I/O needs both the length and the memory address aligned, so the buffer
// is carved out of a slightly larger allocation at the first aligned offset.
func AlignedBuffer(n int) []byte {
	if r := n % SectorSize; r != 0 {
		n += SectorSize - r
	}
	const bufAlign = 4096
	raw := make([]byte, n+bufAlign)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % bufAlign); rem != 0 {
		off = bufAlign - rem
	}
	return raw[off : off+n : off+n]
}

// ReadAt reads length bytes starting at byteOffset, rounding out to the
// enclosing whole sectors the way marketstore's executor/buffile.go reads a
// block-aligned region around a sub-block write. Used by every component
// above blockdev that addresses data by byte offset (entry slots, payload
// bytes, metadata records) instead of by raw LBA.
func ReadAt(ctx context.Context, dev Device, byteOffset int64, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	startLBA := byteOffset / SectorSize
	endLBA := ceilDiv(byteOffset+int64(length), SectorSize)
	count := int(endLBA - startLBA)
	buf := AlignedBuffer(count * SectorSize)
	if err := dev.ReadLBAs(ctx, startLBA, count, buf); err != nil {
		return nil, err
	}
	rel := byteOffset - startLBA*SectorSize
	out := make([]byte, length)
	copy(out, buf[rel:rel+int64(length)])
	return out, nil
}

// WriteAt writes data at byteOffset using sector-granular read-modify-write:
// the enclosing sectors are read, data is overlaid at the right offset, and
// the whole span is written back. Grounded on the same buffile.go
// block-buffering strategy as ReadAt.
func WriteAt(ctx context.Context, dev Device, byteOffset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	startLBA := byteOffset / SectorSize
	endLBA := ceilDiv(byteOffset+int64(len(data)), SectorSize)
	count := int(endLBA - startLBA)
	buf := AlignedBuffer(count * SectorSize)
	if err := dev.ReadLBAs(ctx, startLBA, count, buf); err != nil {
		return err
	}
	rel := byteOffset - startLBA*SectorSize
	copy(buf[rel:], data)
	return dev.WriteLBAs(ctx, startLBA, count, buf)
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}

// directFlag returns O_DIRECT. SPDK itself is Linux-only, and so is this
// package: it targets linux/unix build, not a portable one, so there is no
// per-OS fallback here.
func directFlag() int {
	return unix.O_DIRECT
}
