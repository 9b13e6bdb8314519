// Package scheduler implements the round-robin CPort scan that picks the
// next descriptor ready for DMA submission.
package scheduler

import (
	"github.com/fparent/unipro-tx-dma/internal/cport"
	"github.com/fparent/unipro-tx-dma/internal/link"
)

// Pick scans at most dir.Count() CPorts starting at start, wrapping
// around, and returns the first descriptor that is unbound from any DMA
// channel and whose CPort currently reports free TX buffer space. A CPort
// with PendingReset set is flushed unconditionally as Pick passes over it,
// before Pick decides whether to skip it — this is spec.md §9's resolved
// flush-ordering: the original C flushed on both the "FIFO empty" and
// "FIFO non-empty" branches, but at a different point in each; Pick uses
// one order for both.
func Pick(dir cport.Directory, lk link.Link, start uint32, flush func(c *cport.CPort)) (*cport.Descriptor, bool) {
	count := uint32(dir.Count())
	if count == 0 {
		return nil, false
	}

	for i := uint32(0); i < count; i++ {
		cportid := (start + i) % count
		c, ok := dir.Lookup(cportid)
		if !ok {
			continue
		}

		if c.PendingReset {
			flush(c)
		}

		desc, ok := c.Front()
		if !ok {
			continue
		}
		if desc.Channel != nil {
			continue
		}
		if lk.FreeTxBufferSpace(c) == 0 {
			continue
		}

		return desc, true
	}

	return nil, false
}
