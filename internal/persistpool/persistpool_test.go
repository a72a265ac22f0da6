package persistpool_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/spdklog/internal/blockdev"
	"github.com/alpacahq/spdklog/internal/logerr"
	"github.com/alpacahq/spdklog/internal/persistpool"
)

func openPool(t *testing.T) (*persistpool.Pool, *blockdev.QueuePair) {
	t.Helper()
	return openPoolWithSize(t, 16<<20)
}

func openPoolWithSize(t *testing.T, sizeBytes int64) (*persistpool.Pool, *blockdev.QueuePair) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.img")
	qp, err := blockdev.Open(path, sizeBytes)
	require.NoError(t, err)
	ctx := context.Background()
	pool, err := persistpool.New(ctx, qp)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close(ctx) })
	return pool, qp
}

func TestAppendReadEntryAndData(t *testing.T) {
	ctx := context.Background()
	pool, _ := openPool(t)

	rec, err := pool.Load(ctx, "orders")
	require.NoError(t, err)

	e, newRec, err := pool.Append(ctx, rec, 1, 100, 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Ver)
	assert.Equal(t, uint64(5), e.Dlen)
	assert.Equal(t, int64(1), newRec.Tail)
	assert.Equal(t, int64(5), newRec.DataTail)

	got, err := pool.ReadEntry(ctx, newRec, 0)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	payload, err := pool.ReadData(ctx, newRec, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
}

func TestAppendRejectsVersionRegression(t *testing.T) {
	ctx := context.Background()
	pool, _ := openPool(t)

	rec, err := pool.Load(ctx, "orders")
	require.NoError(t, err)

	_, rec, err = pool.Append(ctx, rec, 5, 0, 0, []byte("a"))
	require.NoError(t, err)

	_, _, err = pool.Append(ctx, rec, 5, 0, 0, []byte("b"))
	var regress *logerr.VersionRegressionError
	assert.ErrorAs(t, err, &regress)

	_, _, err = pool.Append(ctx, rec, 3, 0, 0, []byte("b"))
	assert.ErrorAs(t, err, &regress)
}

func TestReadEntryOutOfRangeIsNotFound(t *testing.T) {
	ctx := context.Background()
	pool, _ := openPool(t)

	rec, err := pool.Load(ctx, "orders")
	require.NoError(t, err)

	_, err = pool.ReadEntry(ctx, rec, 0)
	var notFound *logerr.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLastWrittenVersionTracksAppends(t *testing.T) {
	ctx := context.Background()
	pool, _ := openPool(t)

	rec, err := pool.Load(ctx, "orders")
	require.NoError(t, err)

	_, ok := pool.LastWrittenVersion(rec.ID)
	assert.True(t, ok)

	_, rec, err = pool.Append(ctx, rec, 3, 0, 0, []byte("x"))
	require.NoError(t, err)

	v, ok := pool.LastWrittenVersion(rec.ID)
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestAppendAcrossSegmentBoundaryReadsBack(t *testing.T) {
	ctx := context.Background()
	// Metadata region alone is ~4.25 MiB (256 slots * 2 copies * 17 sectors); size generously
	// so the segment pool has headroom for a payload spanning two segments
	// plus the entry segment it shares the bitmap with.
	pool, _ := openPoolWithSize(t, 64<<20)

	rec, err := pool.Load(ctx, "stream")
	require.NoError(t, err)

	big := make([]byte, 3<<20) // 3 MiB, spans more than one 2 MiB segment
	for i := range big {
		big[i] = byte(i % 251)
	}
	_, rec, err = pool.Append(ctx, rec, 1, 0, 0, big)
	require.NoError(t, err)

	got, err := pool.ReadData(ctx, rec, 0)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestStatsReflectsAppends(t *testing.T) {
	ctx := context.Background()
	pool, _ := openPool(t)

	rec, err := pool.Load(ctx, "orders")
	require.NoError(t, err)
	_, _, err = pool.Append(ctx, rec, 1, 0, 0, []byte("payload"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pool.Stats().AppendCount == 1
	}, time.Second, time.Millisecond)
}

func TestUpdateMetadataPersistsWithoutNewEntry(t *testing.T) {
	ctx := context.Background()
	pool, _ := openPool(t)

	rec, err := pool.Load(ctx, "orders")
	require.NoError(t, err)
	rec.Head = 0
	rec.Tail = 0
	rec.Ver = 42
	committed, err := pool.UpdateMetadata(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(42), committed.Ver)
}
