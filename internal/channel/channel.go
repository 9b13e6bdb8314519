// Package channel implements the fixed-size pool of DMA channels this
// engine multiplexes across CPorts, and the deterministic CPort-to-channel
// mapping spec.md requires (never a free-list allocator).
package channel

import (
	"fmt"

	"github.com/fparent/unipro-tx-dma/internal/atabl"
	"github.com/fparent/unipro-tx-dma/internal/dma"
)

// Unbound is the sentinel BoundCPortID value meaning "this channel is not
// currently bound to any CPort". Named so it reads as a sentinel at every
// call site rather than a bare 0xFFFF literal; the value itself must stay
// in sync with the ATABL collaborator's own "no peripheral" convention.
const Unbound uint32 = 0xFFFF

// Channel is one entry in the fixed-size channel pool: a DMA channel
// handle, the ATABL request slot it is paired with (nil on ES2, where
// there is no ATABL arbitration), and the CPort it is currently serving.
type Channel struct {
	Index        int
	DMAHandle    dma.Chan
	AtablReq     atabl.Req
	BoundCPortID uint32
}

// Pool is the fixed-size array of channels allocated during TxInit. It is
// never grown or shrunk at runtime.
type Pool struct {
	channels []Channel
}

// NewPool best-effort-allocates up to n channels from dev (and, if atablDev
// is non-nil, pairs each with an ATABL request slot), binding none of them
// to a CPort. Allocation stops at the first failure rather than treating
// it as fatal — spec.md §4.7 only requires at least one channel to come up
// for tx_init to succeed — and returns only an error if zero channels could
// be allocated at all.
func NewPool(dev dma.Device, atablDev atabl.Device, params dma.ChanParams, n int) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("channel: pool size must be positive, got %d", n)
	}
	channels := make([]Channel, 0, n)
	for i := 0; i < n; i++ {
		var req atabl.Req
		if atablDev != nil {
			var err error
			req, err = atablDev.ReqAlloc()
			if err != nil {
				break
			}
		}

		chanParams := params
		if atablDev != nil {
			chanParams.DstDevID = uint32(atablDev.ReqToPeripheralID(req))
		}

		ch, err := dev.ChanAlloc(chanParams)
		if err != nil {
			if atablDev != nil && req != nil {
				_ = atablDev.ReqFree(req)
			}
			break
		}

		channels = append(channels, Channel{Index: i, DMAHandle: ch, AtablReq: req, BoundCPortID: Unbound})
	}

	if len(channels) == 0 {
		return nil, fmt.Errorf("channel: couldn't allocate a single DMA channel")
	}

	return &Pool{channels: channels}, nil
}

// Close frees every channel (and ATABL request, if any) back to its
// owning device.
func (p *Pool) Close(dev dma.Device, atablDev atabl.Device) {
	for i := range p.channels {
		if p.channels[i].DMAHandle != nil {
			_ = dev.ChanFree(p.channels[i].DMAHandle)
			p.channels[i].DMAHandle = nil
		}
		if atablDev != nil && p.channels[i].AtablReq != nil {
			_ = atablDev.ReqFree(p.channels[i].AtablReq)
			p.channels[i].AtablReq = nil
		}
	}
}

// Len returns the number of channels in the pool.
func (p *Pool) Len() int {
	return len(p.channels)
}

// For returns the channel deterministically assigned to cportid, per
// spec.md §4.2's `channels[cportid % max_channel]` mapping.
func (p *Pool) For(cportid uint32) *Channel {
	return &p.channels[int(cportid)%len(p.channels)]
}
