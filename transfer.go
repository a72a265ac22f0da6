// Wire-format state transfer: ToBytes, BytesSize, PostObject, and their
// inverse ApplyLogTail (spec §6). The layout is
// { i64 latest_version ; i64 nr_entries ; n * (LogEntry ; payload) },
// little-endian, which to_bytes/post_object produce and applyLogTail
// consumes. REDESIGN FLAG applied here: ToBytes copies entry and payload
// bytes into the destination buffer being built, never the reverse; the
// original source's to_bytes wrote into its own source pointers instead of
// the destination, which is not reproduced.
package spdklog

import (
	"context"
	"fmt"

	"github.com/alpacahq/spdklog/internal/entry"
	"github.com/alpacahq/spdklog/internal/wire"
)

const wireHeaderSize = 16 // i64 latest_version + i64 nr_entries

// BytesSize returns the number of bytes ToBytes(ctx, ver) would produce,
// without allocating or reading payloads.
func (l *PersistentLog) BytesSize(ctx context.Context, ver int64) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()

	idx, err := upperBoundVersion(ctx, l.pool, l.meta, ver)
	if err != nil {
		return 0, err
	}
	size := int64(wireHeaderSize)
	if idx == InvalidIndex {
		return size, nil
	}
	for i := idx; i < l.meta.Tail; i++ {
		e, err := l.pool.ReadEntry(ctx, l.meta, i)
		if err != nil {
			return 0, err
		}
		size += int64(entry.Size) + int64(e.Dlen)
	}
	return size, nil
}

// ToBytes produces the portion of the log with entries strictly newer than
// ver, in the §6 wire format. A ver at or past the latest version yields a
// header-only buffer with nr_entries = 0.
func (l *PersistentLog) ToBytes(ctx context.Context, ver int64) ([]byte, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()

	idx, err := upperBoundVersion(ctx, l.pool, l.meta, ver)
	if err != nil {
		return nil, err
	}
	var nrEntries int64
	if idx != InvalidIndex {
		nrEntries = l.meta.Tail - idx
	}

	buf := make([]byte, 0, wireHeaderSize)
	buf = wire.PutInt64(buf, l.meta.Ver)
	buf = wire.PutInt64(buf, nrEntries)
	if idx == InvalidIndex {
		return buf, nil
	}
	for i := idx; i < l.meta.Tail; i++ {
		e, err := l.pool.ReadEntry(ctx, l.meta, i)
		if err != nil {
			return nil, err
		}
		data, err := l.pool.ReadData(ctx, l.meta, i)
		if err != nil {
			return nil, err
		}
		buf = append(buf, e.Marshal()...)
		buf = append(buf, data...)
	}
	return buf, nil
}

// PostObject is the streaming form of ToBytes: it invokes emit once per
// wire-format chunk (the header, then each entry header and payload)
// instead of building one contiguous buffer.
func (l *PersistentLog) PostObject(ctx context.Context, ver int64, emit func([]byte) error) error {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()

	idx, err := upperBoundVersion(ctx, l.pool, l.meta, ver)
	if err != nil {
		return err
	}
	var nrEntries int64
	if idx != InvalidIndex {
		nrEntries = l.meta.Tail - idx
	}

	head := make([]byte, 0, wireHeaderSize)
	head = wire.PutInt64(head, l.meta.Ver)
	head = wire.PutInt64(head, nrEntries)
	if err := emit(head); err != nil {
		return err
	}
	if idx == InvalidIndex {
		return nil
	}
	for i := idx; i < l.meta.Tail; i++ {
		e, err := l.pool.ReadEntry(ctx, l.meta, i)
		if err != nil {
			return err
		}
		if err := emit(e.Marshal()); err != nil {
			return err
		}
		data, err := l.pool.ReadData(ctx, l.meta, i)
		if err != nil {
			return err
		}
		if err := emit(data); err != nil {
			return err
		}
	}
	return nil
}

// ApplyLogTail is the inverse of ToBytes/PostObject: entries with
// ver <= metadata.ver are ignored (making repeated application idempotent);
// the rest are appended preserving their ver, hlc, and payload. The sender's
// latest_version is adopted even if it exceeds the last transferred entry's
// ver, so a log whose tail was produced purely by AdvanceVersion still
// round-trips.
func (l *PersistentLog) ApplyLogTail(ctx context.Context, buf []byte) error {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.Lock()
	defer l.tailLock.Unlock()

	if len(buf) < wireHeaderSize {
		return fmt.Errorf("spdklog: applyLogTail: buffer shorter than header")
	}
	latestVersion := wire.Int64(buf[0:8])
	nrEntries := wire.Int64(buf[8:16])
	ofst := int64(wireHeaderSize)

	for i := int64(0); i < nrEntries; i++ {
		if ofst+int64(entry.Size) > int64(len(buf)) {
			return fmt.Errorf("spdklog: applyLogTail: truncated entry header at entry %d", i)
		}
		e := entry.Unmarshal(buf[ofst : ofst+int64(entry.Size)])
		ofst += int64(entry.Size)

		if ofst+int64(e.Dlen) > int64(len(buf)) {
			return fmt.Errorf("spdklog: applyLogTail: truncated payload at entry %d", i)
		}
		payload := buf[ofst : ofst+int64(e.Dlen)]
		ofst += int64(e.Dlen)

		if e.Ver <= l.meta.Ver {
			continue
		}
		input := l.meta
		input.InUse = true
		_, newRec, err := l.pool.Append(ctx, input, e.Ver, e.HLCR, e.HLCL, payload)
		if err != nil {
			return err
		}
		l.meta = newRec
	}

	if latestVersion > l.meta.Ver {
		newRec := l.meta
		newRec.Ver = latestVersion
		committed, err := l.pool.UpdateMetadata(ctx, newRec)
		if err != nil {
			return err
		}
		l.meta = committed
	}
	l.state = StateLoaded
	return nil
}
