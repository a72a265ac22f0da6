package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/spdklog/internal/wire"
)

func TestPutAndReadInt64RoundTrip(t *testing.T) {
	buf := wire.PutInt64(nil, -42)
	assert.Equal(t, int64(-42), wire.Int64(buf))
}

func TestPutAndReadUint64RoundTrip(t *testing.T) {
	buf := wire.PutUint64(nil, 1<<40)
	assert.Equal(t, uint64(1<<40), wire.Uint64(buf))
}

func TestPutAndReadUint32RoundTrip(t *testing.T) {
	buf := wire.PutUint32(nil, 1<<20)
	assert.Equal(t, uint32(1<<20), wire.Uint32(buf))
}

func TestPutAppendsRatherThanOverwrites(t *testing.T) {
	buf := wire.PutInt64(nil, 1)
	buf = wire.PutInt64(buf, 2)
	assert.Len(t, buf, 16)
	assert.Equal(t, int64(1), wire.Int64(buf[0:8]))
	assert.Equal(t, int64(2), wire.Int64(buf[8:16]))
}

func TestChecksum128Deterministic(t *testing.T) {
	a := wire.Checksum128([]byte("hello"))
	b := wire.Checksum128([]byte("hello"))
	c := wire.Checksum128([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
