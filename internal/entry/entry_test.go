package entry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alpacahq/spdklog/internal/entry"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	e := entry.Entry{Ver: 7, HLCR: 1000, HLCL: 3, Dlen: 128, Ofst: 4096}
	buf := e.Marshal()
	assert.Len(t, buf, entry.Size)

	got := entry.Unmarshal(buf)
	assert.Equal(t, e, got)
}

func TestHLCLess(t *testing.T) {
	assert.True(t, entry.HLCLess(1, 5, 2, 0))
	assert.True(t, entry.HLCLess(1, 5, 1, 6))
	assert.False(t, entry.HLCLess(1, 5, 1, 5))
	assert.False(t, entry.HLCLess(2, 0, 1, 9))
}

func TestHLCEqual(t *testing.T) {
	assert.True(t, entry.HLCEqual(3, 4, 3, 4))
	assert.False(t, entry.HLCEqual(3, 4, 3, 5))
}
