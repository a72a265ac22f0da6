package segment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/spdklog/internal/segment"
)

func TestNewBitmapReservesSegmentZero(t *testing.T) {
	b := segment.NewBitmap(4)
	assert.Equal(t, 3, b.FreeCount())

	seg, err := b.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), seg)
}

func TestBitmapAllocFreeRoundTrip(t *testing.T) {
	b := segment.NewBitmap(3)

	first, err := b.Alloc()
	require.NoError(t, err)
	second, err := b.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 0, b.FreeCount())

	_, err = b.Alloc()
	assert.Error(t, err)

	require.NoError(t, b.Free(first))
	assert.Equal(t, 1, b.FreeCount())

	third, err := b.Alloc()
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestBitmapDoubleFree(t *testing.T) {
	b := segment.NewBitmap(2)
	seg, err := b.Alloc()
	require.NoError(t, err)
	require.NoError(t, b.Free(seg))
	assert.Error(t, b.Free(seg))
}

func TestBitmapFreeOutOfRange(t *testing.T) {
	b := segment.NewBitmap(2)
	assert.Error(t, b.Free(99))
}

func TestLoadBitmapReassertsSegmentZeroReservation(t *testing.T) {
	// An all-zero region, as a never-before-written device reads back.
	raw := make([]byte, 4)
	b := segment.LoadBitmap(raw)
	assert.Equal(t, 3, b.FreeCount())

	seg, err := b.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), seg)
}

func TestLoadBitmapRoundTripsBytes(t *testing.T) {
	orig := segment.NewBitmap(8)
	_, err := orig.Alloc()
	require.NoError(t, err)
	_, err = orig.Alloc()
	require.NoError(t, err)

	reloaded := segment.LoadBitmap(orig.Bytes())
	assert.Equal(t, orig.FreeCount(), reloaded.FreeCount())
}

func TestTablePhysicalSegmentUnallocated(t *testing.T) {
	var tbl segment.Table
	_, ok := tbl.PhysicalSegment(5)
	assert.False(t, ok)

	require.NoError(t, tbl.Set(5, 42))
	phys, ok := tbl.PhysicalSegment(5)
	assert.True(t, ok)
	assert.Equal(t, uint32(42), phys)
}

func TestTableSetOutOfRange(t *testing.T) {
	var tbl segment.Table
	assert.Error(t, tbl.Set(-1, 1))
	assert.Error(t, tbl.Set(segment.TableLength, 1))
}

func TestTranslate(t *testing.T) {
	logicalSeg, intra := segment.Translate(0)
	assert.Equal(t, 0, logicalSeg)
	assert.Equal(t, int64(0), intra)

	logicalSeg, intra = segment.Translate(segment.Size + 100)
	assert.Equal(t, 1, logicalSeg)
	assert.Equal(t, int64(100), intra)

	logicalSeg, intra = segment.Translate(int64(3)*segment.Size + 7)
	assert.Equal(t, 3, logicalSeg)
	assert.Equal(t, int64(7), intra)
}
