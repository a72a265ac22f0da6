package spdklog

import (
	"context"

	"github.com/alpacahq/spdklog/internal/blockdev"
	"github.com/alpacahq/spdklog/internal/persistpool"
)

// Pool is the process-wide persist thread pool (spec §4.3). Open it once
// per device and share it across every PersistentLog backed by that
// device.
type Pool = persistpool.Pool

// PoolStats is a snapshot of pool-wide diagnostics.
type PoolStats = persistpool.Stats

// OpenPool opens path as the backing NVMe namespace, creating and sizing it
// to sizeBytes if it does not already exist, and wires up the persist
// thread pool that every PersistentLog opened against it will share.
func OpenPool(ctx context.Context, path string, sizeBytes int64) (*Pool, error) {
	qp, err := blockdev.Open(path, sizeBytes)
	if err != nil {
		return nil, err
	}
	pool, err := persistpool.New(ctx, qp)
	if err != nil {
		qp.Close()
		return nil, err
	}
	return pool, nil
}
