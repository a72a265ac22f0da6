package spdklog_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alpacahq/spdklog"
)

func openTestPool(t *testing.T) *spdklog.Pool {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.img")
	pool, err := spdklog.OpenPool(ctx, path, 16<<20)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close(ctx) })
	return pool
}

func openTestLog(t *testing.T, name string) *spdklog.PersistentLog {
	t.Helper()
	ctx := context.Background()
	pool := openTestPool(t)
	l, err := spdklog.Open(ctx, pool, name)
	require.NoError(t, err)
	return l
}

func appendN(t *testing.T, l *spdklog.PersistentLog, vers ...int64) {
	t.Helper()
	ctx := context.Background()
	for _, v := range vers {
		_, err := l.Append(ctx, []byte{byte(v)}, v, spdklog.HLC{R: uint64(v), L: 0})
		require.NoError(t, err)
	}
}
