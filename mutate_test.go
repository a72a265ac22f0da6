package spdklog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/spdklog"
)

func TestAppendRejectsNonIncreasingVersion(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 5)

	_, err := l.Append(ctx, []byte("x"), 5, spdklog.HLC{})
	var regress *spdklog.VersionRegressionError
	assert.ErrorAs(t, err, &regress)

	_, err = l.Append(ctx, []byte("x"), 4, spdklog.HLC{})
	assert.ErrorAs(t, err, &regress)
}

func TestAdvanceVersionWithoutNewEntry(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 1)

	require.NoError(t, l.AdvanceVersion(ctx, 10))
	assert.Equal(t, int64(10), l.GetLatestVersion())
	assert.Equal(t, int64(1), l.GetLength())

	err := l.AdvanceVersion(ctx, 10)
	var regress *spdklog.VersionRegressionError
	assert.ErrorAs(t, err, &regress)
}

func TestTrimByIndexBoundaryIsNoOp(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 1, 2, 3)

	require.NoError(t, l.TrimByIndex(ctx, -1))
	assert.Equal(t, int64(0), l.GetEarliestIndex())

	require.NoError(t, l.TrimByIndex(ctx, 2)) // tail-1
	assert.Equal(t, int64(3), l.GetEarliestIndex())
	assert.Equal(t, int64(0), l.GetLength())

	require.NoError(t, l.TrimByIndex(ctx, 99)) // past tail, no-op
	assert.Equal(t, int64(3), l.GetEarliestIndex())
}

func TestTrimByVersion(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 10, 20, 30)

	require.NoError(t, l.TrimByVersion(ctx, 20))
	assert.Equal(t, int64(2), l.GetEarliestIndex())
	assert.Equal(t, int64(1), l.GetLength())
}

func TestTruncateDropsDivergentTailAndResumesAppend(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 1, 2, 3)

	require.NoError(t, l.Truncate(ctx, 1))
	assert.Equal(t, int64(1), l.GetLength())
	assert.Equal(t, int64(0), l.GetLatestIndex())

	_, err := l.Append(ctx, []byte("resumed"), 4, spdklog.HLC{})
	require.NoError(t, err)

	data, err := l.GetEntryByIndex(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("resumed"), data)
}

func TestTruncateToEmptyResetsDataTail(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 1, 2)

	require.NoError(t, l.Truncate(ctx, 0))
	assert.Equal(t, int64(0), l.GetLength())

	_, err := l.Append(ctx, []byte("fresh"), 3, spdklog.HLC{})
	require.NoError(t, err)
	data, err := l.GetEntryByIndex(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), data)
}

func TestZerooutThenAppendReinitializes(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t, "orders")
	appendN(t, l, 1, 2)

	require.NoError(t, l.Zeroout(ctx))
	assert.Equal(t, spdklog.StateZeroed, l.State())
	assert.Equal(t, int64(0), l.GetLength())

	_, err := l.Append(ctx, []byte("reborn"), 3, spdklog.HLC{})
	require.NoError(t, err)
	assert.Equal(t, spdklog.StateLoaded, l.State())
	assert.Equal(t, int64(1), l.GetLength())
}
