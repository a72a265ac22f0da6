package spdklog

import (
	"context"
	"fmt"

	"github.com/alpacahq/spdklog/internal/entry"
	"github.com/alpacahq/spdklog/internal/logerr"
	"github.com/alpacahq/spdklog/internal/logmeta"
	"github.com/alpacahq/spdklog/internal/persistpool"
)

// binarySearchFirstTrue returns the smallest idx in [lo, hi) for which pred
// holds, or hi if pred never holds; pred must be monotonic (false*, then
// true*) over the range. Grounded on the original SPDKPersistLog's bound
// searches, cleaned up so a vacuous search never touches device storage and
// the returned index is always a valid boundary rather than an
// off-by-one artifact.
func binarySearchFirstTrue(lo, hi int64, pred func(idx int64) (bool, error)) (int64, error) {
	for lo < hi {
		mid := lo + (hi-lo)/2
		ok, err := pred(mid)
		if err != nil {
			return 0, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo, nil
}

// lowerBoundVersion returns the smallest live index whose entry.ver >= ver,
// or InvalidIndex if no such entry exists (spec §8: "binary searches on an
// empty log return INVALID_INDEX without device reads").
func lowerBoundVersion(ctx context.Context, pool *persistpool.Pool, meta logmeta.Record, ver int64) (int64, error) {
	if meta.Head >= meta.Tail {
		return InvalidIndex, nil
	}
	idx, err := binarySearchFirstTrue(meta.Head, meta.Tail, func(i int64) (bool, error) {
		e, err := pool.ReadEntry(ctx, meta, i)
		if err != nil {
			return false, err
		}
		return e.Ver >= ver, nil
	})
	if err != nil {
		return 0, err
	}
	if idx >= meta.Tail {
		return InvalidIndex, nil
	}
	return idx, nil
}

// upperBoundVersion returns the smallest live index whose entry.ver > ver,
// or meta.Tail if no such entry exists (used directly by Truncate and
// ToBytes/BytesSize, where "nothing past this version" and "truncate to
// the current tail" are the same valid answer). An empty log still
// short-circuits to InvalidIndex.
func upperBoundVersion(ctx context.Context, pool *persistpool.Pool, meta logmeta.Record, ver int64) (int64, error) {
	if meta.Head >= meta.Tail {
		return InvalidIndex, nil
	}
	return binarySearchFirstTrue(meta.Head, meta.Tail, func(i int64) (bool, error) {
		e, err := pool.ReadEntry(ctx, meta, i)
		if err != nil {
			return false, err
		}
		return e.Ver > ver, nil
	})
}

func searchVersion(ctx context.Context, pool *persistpool.Pool, meta logmeta.Record, ver int64) (int64, error) {
	idx, err := lowerBoundVersion(ctx, pool, meta, ver)
	if err != nil {
		return InvalidIndex, err
	}
	if idx == InvalidIndex {
		return InvalidIndex, &logerr.NotFoundError{LogID: meta.ID, Key: fmt.Sprintf("version %d", ver)}
	}
	e, err := pool.ReadEntry(ctx, meta, idx)
	if err != nil {
		return InvalidIndex, err
	}
	if e.Ver != ver {
		return InvalidIndex, &logerr.NotFoundError{LogID: meta.ID, Key: fmt.Sprintf("version %d", ver)}
	}
	return idx, nil
}

func lowerBoundHLC(ctx context.Context, pool *persistpool.Pool, meta logmeta.Record, h HLC) (int64, error) {
	if meta.Head >= meta.Tail {
		return InvalidIndex, nil
	}
	idx, err := binarySearchFirstTrue(meta.Head, meta.Tail, func(i int64) (bool, error) {
		e, err := pool.ReadEntry(ctx, meta, i)
		if err != nil {
			return false, err
		}
		return !entry.HLCLess(e.HLCR, e.HLCL, h.R, h.L), nil
	})
	if err != nil {
		return 0, err
	}
	if idx >= meta.Tail {
		return InvalidIndex, nil
	}
	return idx, nil
}

func upperBoundHLC(ctx context.Context, pool *persistpool.Pool, meta logmeta.Record, h HLC) (int64, error) {
	if meta.Head >= meta.Tail {
		return InvalidIndex, nil
	}
	return binarySearchFirstTrue(meta.Head, meta.Tail, func(i int64) (bool, error) {
		e, err := pool.ReadEntry(ctx, meta, i)
		if err != nil {
			return false, err
		}
		return entry.HLCLess(h.R, h.L, e.HLCR, e.HLCL), nil
	})
}

func searchHLC(ctx context.Context, pool *persistpool.Pool, meta logmeta.Record, h HLC) (int64, error) {
	idx, err := lowerBoundHLC(ctx, pool, meta, h)
	if err != nil {
		return InvalidIndex, err
	}
	if idx == InvalidIndex {
		return InvalidIndex, &logerr.NotFoundError{LogID: meta.ID, Key: fmt.Sprintf("hlc (%d,%d)", h.R, h.L)}
	}
	e, err := pool.ReadEntry(ctx, meta, idx)
	if err != nil {
		return InvalidIndex, err
	}
	if !entry.HLCEqual(e.HLCR, e.HLCL, h.R, h.L) {
		return InvalidIndex, &logerr.NotFoundError{LogID: meta.ID, Key: fmt.Sprintf("hlc (%d,%d)", h.R, h.L)}
	}
	return idx, nil
}

// GetVersionIndex is an exact-match binary search over [head, tail) on
// entry.ver.
func (l *PersistentLog) GetVersionIndex(ctx context.Context, ver int64) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return searchVersion(ctx, l.pool, l.meta, ver)
}

// GetHLCIndex is an exact-match binary search over [head, tail) on
// (hlc_r, hlc_l).
func (l *PersistentLog) GetHLCIndex(ctx context.Context, h HLC) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return searchHLC(ctx, l.pool, l.meta, h)
}

// LowerBoundVersion returns the smallest live index with entry.ver >= ver.
func (l *PersistentLog) LowerBoundVersion(ctx context.Context, ver int64) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return lowerBoundVersion(ctx, l.pool, l.meta, ver)
}

// UpperBoundVersion returns the smallest live index with entry.ver > ver,
// or the current tail if none qualifies.
func (l *PersistentLog) UpperBoundVersion(ctx context.Context, ver int64) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return upperBoundVersion(ctx, l.pool, l.meta, ver)
}

// LowerBoundHLC returns the smallest live index with hlc >= h.
func (l *PersistentLog) LowerBoundHLC(ctx context.Context, h HLC) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return lowerBoundHLC(ctx, l.pool, l.meta, h)
}

// UpperBoundHLC returns the smallest live index with hlc > h, or the
// current tail if none qualifies.
func (l *PersistentLog) UpperBoundHLC(ctx context.Context, h HLC) (int64, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	return upperBoundHLC(ctx, l.pool, l.meta, h)
}

// GetEntryByVersion returns the payload at lower_bound(ver).
func (l *PersistentLog) GetEntryByVersion(ctx context.Context, ver int64) ([]byte, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	idx, err := lowerBoundVersion(ctx, l.pool, l.meta, ver)
	if err != nil {
		return nil, err
	}
	if idx == InvalidIndex {
		return nil, &logerr.NotFoundError{LogID: l.meta.ID, Key: fmt.Sprintf("version %d", ver)}
	}
	return l.pool.ReadData(ctx, l.meta, idx)
}

// GetEntryByHLC returns the payload at lower_bound(h).
func (l *PersistentLog) GetEntryByHLC(ctx context.Context, h HLC) ([]byte, error) {
	l.headLock.RLock()
	defer l.headLock.RUnlock()
	l.tailLock.RLock()
	defer l.tailLock.RUnlock()
	idx, err := lowerBoundHLC(ctx, l.pool, l.meta, h)
	if err != nil {
		return nil, err
	}
	if idx == InvalidIndex {
		return nil, &logerr.NotFoundError{LogID: l.meta.ID, Key: fmt.Sprintf("hlc (%d,%d)", h.R, h.L)}
	}
	return l.pool.ReadData(ctx, l.meta, idx)
}
