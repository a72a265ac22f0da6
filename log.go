// Package spdklog is the persistent log facade (spec §4.5): one instance
// per named log, backed by a shared internal/persistpool.Pool. It holds
// the head/tail reader-writer locks and exposes the public operations
// listed in spec §2 over a device that is otherwise only ever touched
// through the pool.
package spdklog

import (
	"context"
	"sync"

	"github.com/alpacahq/spdklog/internal/log"
	"github.com/alpacahq/spdklog/internal/logmeta"
	"github.com/alpacahq/spdklog/internal/persistpool"
)

// InvalidIndex is returned by the bound and search operations when no
// entry satisfies the query.
const InvalidIndex int64 = -1

// HLC is a hybrid logical clock reading: a physical microsecond component
// and a logical counter, ordered lexicographically (spec §3).
type HLC struct {
	R uint64
	L uint64
}

// State is the log's lifecycle state (spec §4.6).
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateZeroed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateZeroed:
		return "zeroed"
	default:
		return "uninitialized"
	}
}

// PersistentLog is one named, append-only log multiplexed over a shared
// device through a *persistpool.Pool. All public methods acquire headLock
// before tailLock and release in reverse, per spec §4.5's fixed lock
// ordering; using defer for both locks gets the reverse-release order for
// free from Go's LIFO defer stack.
type PersistentLog struct {
	pool *persistpool.Pool

	headLock sync.RWMutex
	tailLock sync.RWMutex

	meta  logmeta.Record
	state State
}

// Open loads or creates the named log against pool. A name never seen by
// pool before transitions Uninitialized -> Loaded with a fresh, empty
// metadata record; a previously persisted name is rehydrated from the
// device as-is (including a prior Zeroed state).
func Open(ctx context.Context, pool *persistpool.Pool, name string) (*PersistentLog, error) {
	rec, err := pool.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	st := StateZeroed
	if rec.InUse {
		st = StateLoaded
	}
	l := &PersistentLog{pool: pool, meta: rec, state: st}
	log.Info("spdklog: opened log %q id=%d head=%d tail=%d ver=%d state=%s", name, rec.ID, rec.Head, rec.Tail, rec.Ver, st)
	return l, nil
}

// Name, ID report the log's identity; both are immutable for the life of
// the in-memory handle.
func (l *PersistentLog) Name() string { return l.meta.Name }
func (l *PersistentLog) ID() int32    { return l.meta.ID }

// State returns the log's current lifecycle state.
func (l *PersistentLog) State() State {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return l.state
}

// snapshot returns a copy of the current metadata record under both read
// locks, safe to hand to internal/persistpool without holding l's locks
// across the device I/O that follows.
func (l *PersistentLog) snapshot() logmeta.Record {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return l.meta
}

// GetLength returns tail-head, the number of live entries.
func (l *PersistentLog) GetLength() int64 {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return l.meta.Tail - l.meta.Head
}

// GetEarliestIndex returns head, the index of the earliest live entry.
func (l *PersistentLog) GetEarliestIndex() int64 {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	return l.meta.Head
}

// GetLatestIndex returns tail-1, or InvalidIndex if the log is empty.
func (l *PersistentLog) GetLatestIndex() int64 {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	if l.meta.Tail <= l.meta.Head {
		return InvalidIndex
	}
	return l.meta.Tail - 1
}

// GetLatestVersion returns metadata.ver, which may exceed the last entry's
// version if AdvanceVersion was called.
func (l *PersistentLog) GetLatestVersion() int64 {
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return l.meta.Ver
}

// GetEarliestVersion returns the version of the earliest live entry, or
// InvalidIndex if the log is empty.
func (l *PersistentLog) GetEarliestVersion(ctx context.Context) (int64, error) {
	meta := l.snapshot()
	if meta.Tail <= meta.Head {
		return InvalidIndex, nil
	}
	e, err := l.pool.ReadEntry(ctx, meta, meta.Head)
	if err != nil {
		return 0, err
	}
	return e.Ver, nil
}

// GetEntryByIndex returns the payload at absolute index idx. The caller
// must ensure head <= idx < tail; an out-of-range idx surfaces NotFound.
func (l *PersistentLog) GetEntryByIndex(ctx context.Context, idx int64) ([]byte, error) {
	meta := l.snapshot()
	return l.pool.ReadData(ctx, meta, idx)
}

// GetLogEntry returns the LogEntry header at absolute index idx.
func (l *PersistentLog) GetLogEntry(ctx context.Context, idx int64) (LogEntry, error) {
	meta := l.snapshot()
	e, err := l.pool.ReadEntry(ctx, meta, idx)
	if err != nil {
		return LogEntry{}, err
	}
	return fromInternal(e), nil
}

// Persist blocks until the pool's last written version for this log is at
// least the latest version accepted by a prior Append, and returns that
// version. The pool writes synchronously per Append, so this reduces to a
// single read (spec §4.5).
func (l *PersistentLog) Persist() int64 {
	v, ok := l.pool.LastWrittenVersion(l.ID())
	if !ok {
		return 0
	}
	return v
}

// GetLastPersisted is a non-blocking observation of the same value Persist
// would return.
func (l *PersistentLog) GetLastPersisted() int64 {
	return l.Persist()
}
