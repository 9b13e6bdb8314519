package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fparent/unipro-tx-dma/internal/cport"
)

func TestFreeTxBufferSpaceDefaultsToUnbounded(t *testing.T) {
	l := New()
	c := &cport.CPort{CPortID: 0}
	assert.Greater(t, l.FreeTxBufferSpace(c), 0)
}

func TestFreeTxBufferSpaceFollowsScriptedSequenceThenHolds(t *testing.T) {
	l := New()
	c := &cport.CPort{CPortID: 1}
	l.SetFreeSpaceSequence(1, 4, 6, 0)

	assert.Equal(t, 4, l.FreeTxBufferSpace(c))
	assert.Equal(t, 6, l.FreeTxBufferSpace(c))
	assert.Equal(t, 0, l.FreeTxBufferSpace(c))
	assert.Equal(t, 0, l.FreeTxBufferSpace(c), "sequence must hold its last value once exhausted")
}

func TestResetCPortIncrementsCounter(t *testing.T) {
	l := New()
	assert.NoError(t, l.ResetCPort(0))
	assert.NoError(t, l.ResetCPort(0))
	assert.Equal(t, 2, l.ResetCount)
}

func TestStrobeEOMIncrementsCounter(t *testing.T) {
	l := New()
	c := &cport.CPort{CPortID: 0}
	l.StrobeEOM(c)
	assert.Equal(t, 1, l.EOMCount)
}

func TestTxBufferSpaceOffsetRoundTrips(t *testing.T) {
	l := New()
	l.WriteTxBufferSpaceOffset(2, 0xABCD)
	assert.EqualValues(t, 0xABCD, l.ReadTxBufferSpaceOffset(2))
}
