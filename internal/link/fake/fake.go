// Package fake provides an in-memory link.Link, including a scriptable
// free-buffer-space sequence for driving the ES2 chunking scenario under
// test (see spec.md §8 scenario S2).
package fake

import (
	"sync"

	"github.com/fparent/unipro-tx-dma/internal/cport"
)

// Link is an in-memory link.Link.
type Link struct {
	mu sync.Mutex

	// FreeSpace is consulted once per FreeTxBufferSpace call, per CPort.
	// When a CPort's sequence is exhausted, the last value is repeated.
	// A nil or absent entry defaults to a large, effectively-unbounded
	// free-space value.
	FreeSpace map[uint32][]int
	cursor    map[uint32]int

	ResetCount int
	EOMCount   int

	regs map[uint32]uint32
}

// New returns an empty Link with no scripted free-space sequences (every
// CPort reports effectively unlimited free space until configured
// otherwise).
func New() *Link {
	return &Link{
		FreeSpace: make(map[uint32][]int),
		cursor:    make(map[uint32]int),
		regs:      make(map[uint32]uint32),
	}
}

// SetFreeSpaceSequence scripts the sequence of values FreeTxBufferSpace
// returns for cportid, one value per call, holding the final value once
// exhausted.
func (l *Link) SetFreeSpaceSequence(cportid uint32, seq ...int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.FreeSpace[cportid] = seq
	l.cursor[cportid] = 0
}

func (l *Link) FreeTxBufferSpace(c *cport.CPort) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq, ok := l.FreeSpace[c.CPortID]
	if !ok || len(seq) == 0 {
		return 1 << 20
	}
	i := l.cursor[c.CPortID]
	if i >= len(seq) {
		i = len(seq) - 1
	} else {
		l.cursor[c.CPortID] = i + 1
	}
	return seq[i]
}

func (l *Link) ResetCPort(cportid uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ResetCount++
	return nil
}

func (l *Link) StrobeEOM(c *cport.CPort) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.EOMCount++
}

func (l *Link) ReadTxBufferSpaceOffset(cportid uint32) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.regs[cportid]
}

func (l *Link) WriteTxBufferSpaceOffset(cportid uint32, v uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regs[cportid] = v
}
