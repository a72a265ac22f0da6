package spdklog

import (
	"context"

	"github.com/alpacahq/spdklog/internal/logerr"
)

// Append writes payload as a new entry at the current tail, assigning it
// version ver and hlc. Preconditions: ver > metadata.ver; tail-head+1 must
// not exceed the address-table capacity (spec §4.5). Locks are held across
// the device I/O the pool performs, per §5's suspension-point rule, so no
// partial state is ever visible to a concurrent reader.
func (l *PersistentLog) Append(ctx context.Context, payload []byte, ver int64, hlc HLC) (LogEntry, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.Lock()
	defer l.tailLock.Unlock()

	if ver <= l.meta.Ver {
		return LogEntry{}, &logerr.VersionRegressionError{LogID: l.meta.ID, Got: ver, Last: l.meta.Ver}
	}
	input := l.meta
	input.InUse = true // Zeroed -> Loaded reinitialization (spec §4.6)

	e, newRec, err := l.pool.Append(ctx, input, ver, hlc.R, hlc.L, payload)
	if err != nil {
		return LogEntry{}, err
	}
	l.meta = newRec
	l.state = StateLoaded
	return fromInternal(e), nil
}

// AdvanceVersion bumps metadata.ver to ver without adding an entry.
// Requires ver > metadata.ver.
func (l *PersistentLog) AdvanceVersion(ctx context.Context, ver int64) error {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.Lock()
	defer l.tailLock.Unlock()

	if ver <= l.meta.Ver {
		return &logerr.VersionRegressionError{LogID: l.meta.ID, Got: ver, Last: l.meta.Ver}
	}
	newRec := l.meta
	newRec.Ver = ver
	committed, err := l.pool.UpdateMetadata(ctx, newRec)
	if err != nil {
		return err
	}
	l.meta = committed
	return nil
}

// TrimByIndex sets head = idx+1 if head <= idx < tail; otherwise it is a
// no-op (spec §8's boundary behavior for trimByIndex(head-1) and
// trimByIndex(tail)).
func (l *PersistentLog) TrimByIndex(ctx context.Context, idx int64) error {
	l.headLock.Lock()
	defer l.headLock.Unlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return l.trimToIndexLocked(ctx, idx)
}

// TrimByVersion trims up to and including the entry at lower_bound(ver).
func (l *PersistentLog) TrimByVersion(ctx context.Context, ver int64) error {
	l.headLock.Lock()
	defer l.headLock.Unlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	idx, err := lowerBoundVersion(ctx, l.pool, l.meta, ver)
	if err != nil {
		return err
	}
	return l.trimToIndexLocked(ctx, idx)
}

// TrimByHLC trims up to and including the entry at lower_bound(h).
func (l *PersistentLog) TrimByHLC(ctx context.Context, h HLC) error {
	l.headLock.Lock()
	defer l.headLock.Unlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	idx, err := lowerBoundHLC(ctx, l.pool, l.meta, h)
	if err != nil {
		return err
	}
	return l.trimToIndexLocked(ctx, idx)
}

// trimToIndexLocked must be called with headLock held for write and
// tailLock held for at least read.
func (l *PersistentLog) trimToIndexLocked(ctx context.Context, idx int64) error {
	if idx == InvalidIndex || idx < l.meta.Head || idx >= l.meta.Tail {
		return nil
	}
	newRec := l.meta
	newRec.Head = idx + 1
	committed, err := l.pool.UpdateMetadata(ctx, newRec)
	if err != nil {
		return err
	}
	l.meta = committed
	return nil
}

// Truncate sets tail = upper_bound(ver), discarding a divergent tail during
// state transfer. DataTail is recomputed from the new last live entry so
// later Appends resume the data stream at the right offset, since the
// discarded entries' bytes remain on disk but unreferenced.
func (l *PersistentLog) Truncate(ctx context.Context, ver int64) error {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.Lock()
	defer l.tailLock.Unlock()

	idx, err := upperBoundVersion(ctx, l.pool, l.meta, ver)
	if err != nil {
		return err
	}
	newRec := l.meta
	if idx == InvalidIndex {
		newRec.Tail = newRec.Head
	} else {
		newRec.Tail = idx
	}
	if newRec.Tail > newRec.Head {
		last, err := l.pool.ReadEntry(ctx, l.meta, newRec.Tail-1)
		if err != nil {
			return err
		}
		newRec.DataTail = int64(last.Ofst + last.Dlen)
	} else {
		newRec.DataTail = 0
	}

	committed, err := l.pool.UpdateMetadata(ctx, newRec)
	if err != nil {
		return err
	}
	l.meta = committed
	return nil
}

// Zeroout resets head, tail, and inuse, transitioning the log to Zeroed
// (spec §4.6). A subsequent Append reinitializes it back to Loaded. The
// latest version is kept, so that Append must still use a version greater
// than the one the log held before Zeroout.
func (l *PersistentLog) Zeroout(ctx context.Context) error {
	l.headLock.Lock()
	defer l.headLock.Unlock()
	l.tailLock.Lock()
	defer l.tailLock.Unlock()

	newRec := l.meta
	newRec.Head = 0
	newRec.Tail = 0
	newRec.DataTail = 0
	newRec.InUse = false
	committed, err := l.pool.UpdateMetadata(ctx, newRec)
	if err != nil {
		return err
	}
	l.meta = committed
	l.state = StateZeroed
	return nil
}
