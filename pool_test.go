package spdklog_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/spdklog"
)

func TestOpenPoolCreatesBackingFileAtRequestedSize(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.img")

	pool, err := spdklog.OpenPool(ctx, path, 16<<20)
	require.NoError(t, err)
	defer pool.Close(ctx)

	stats := pool.Stats()
	assert.NotEmpty(t, stats.Capacity)
}

func TestOpenPoolRejectsUndersizedDevice(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tiny.img")

	_, err := spdklog.OpenPool(ctx, path, 4096)
	assert.Error(t, err)
}

func TestReopenSamePoolReproducesGeometry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.img")

	pool, err := spdklog.OpenPool(ctx, path, 16<<20)
	require.NoError(t, err)

	l, err := spdklog.Open(ctx, pool, "orders")
	require.NoError(t, err)
	_, err = l.Append(ctx, []byte("a"), 1, spdklog.HLC{})
	require.NoError(t, err)
	require.NoError(t, pool.Close(ctx))

	reopened, err := spdklog.OpenPool(ctx, path, 16<<20)
	require.NoError(t, err)
	defer reopened.Close(ctx)

	l2, err := spdklog.Open(ctx, reopened, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), l2.GetLength())
	data, err := l2.GetEntryByIndex(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), data)
}
