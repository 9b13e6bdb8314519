// Package xfer implements DMA transfer submission and completion handling
// for a single descriptor: the two halves of spec.md §4.4/§4.5 that the
// worker drives per pick.
package xfer

import (
	"fmt"
	"unsafe"

	"github.com/fparent/unipro-tx-dma/internal/atabl"
	"github.com/fparent/unipro-tx-dma/internal/channel"
	"github.com/fparent/unipro-tx-dma/internal/cport"
	"github.com/fparent/unipro-tx-dma/internal/dma"
	"github.com/fparent/unipro-tx-dma/internal/link"
	"github.com/fparent/unipro-tx-dma/internal/logging"
)

// Observer receives notifications of the events internal/xfer's submission
// and completion logic produce, for the ambient metrics stack to consume.
type Observer interface {
	ObserveSubmit(cportid uint32, bytes int)
	ObserveChunk(cportid uint32, bytes int)
	ObserveComplete(cportid uint32, bytes int, status int)
	ObserveCancel(cportid uint32, status int)
	ObserveATABLRebind(cportid uint32)
}

// Context bundles the collaborators Submit and HandleCompletion need. It
// is built once by the engine and shared across every descriptor.
type Context struct {
	DMA      dma.Device
	Atabl    atabl.Device // nil on ES2, where there is no ATABL arbitration
	Link     link.Link
	Log      *logging.Logger
	Observer Observer

	// Wake re-arms the worker's drain loop. Called when a DMA op alloc or
	// enqueue fails (so the worker retries) and when an ES2 transfer only
	// partially completes (so the worker resumes it).
	Wake func()
}

func (c *Context) isES2() bool {
	return c.Atabl == nil
}

func (c *Context) log() *logging.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logging.Default()
}

// Submit begins (or resumes) a DMA transfer for desc over ch, per spec.md
// §4.4. On ES2 chips, a transfer is chunked to whatever TX buffer space is
// currently free; on later revisions ATABL guarantees the whole descriptor
// can be submitted in one op and Submit asserts DataOffset is still zero.
//
// On failure to allocate or enqueue the DMA op, Submit rolls the
// descriptor back to its pre-call state (clearing Channel, undoing the
// DataOffset advance) and re-arms the wake signal so the worker retries —
// see DESIGN.md's resolution of spec.md §9's first open question.
func (c *Context) Submit(desc *cport.Descriptor, ch *channel.Channel) error {
	var xferLen int
	if c.isES2() {
		free := c.Link.FreeTxBufferSpace(desc.Cport)
		if free == 0 {
			return fmt.Errorf("xfer: cport %d has no free tx buffer space", desc.Cport.CPortID)
		}
		xferLen = desc.Len()
		if free < xferLen {
			xferLen = free
		}
	} else {
		if desc.DataOffset != 0 {
			return fmt.Errorf("xfer: non-ES2 descriptor for cport %d resumed with nonzero offset %d", desc.Cport.CPortID, desc.DataOffset)
		}
		xferLen = desc.Len()
	}

	desc.Channel = ch

	op, err := c.DMA.OpAlloc()
	if err != nil {
		desc.Channel = nil
		c.log().WithCPort(desc.Cport.CPortID).WithOp("Submit").Error("xfer: dma op alloc failed", "err", err)
		c.Wake()
		return err
	}

	op.Events = dma.EventComplete
	if !c.isES2() {
		op.Events |= dma.EventStart
	}

	startOffset := desc.DataOffset
	var srcBuf uintptr
	if startOffset < len(desc.Data) {
		srcBuf = uintptr(unsafe.Pointer(&desc.Data[startOffset]))
	}
	dstBuf := desc.Cport.TxBuf
	if startOffset != 0 {
		dstBuf += 8 // resuming: skip the first dword already consumed
	}
	op.SG = dma.SGEntry{Src: srcBuf, Dst: dstBuf, Len: xferLen}
	op.Callback = func(_ dma.Chan, op *dma.Op, event dma.Event) error {
		return c.HandleCompletion(desc, op, event)
	}

	desc.DataOffset += xferLen

	// Captured before Enqueue: a synchronous completion can release (and
	// zero) desc before Enqueue returns.
	cportid := desc.Cport.CPortID
	if startOffset == 0 {
		c.Observer.ObserveSubmit(cportid, xferLen)
	}

	if err := c.DMA.Enqueue(ch.DMAHandle, op); err != nil {
		desc.Channel = nil
		desc.DataOffset = startOffset
		_ = c.DMA.OpFree(op)
		c.log().WithCPort(cportid).WithOp("Submit").Error("xfer: dma enqueue failed", "err", err)
		c.Wake()
		return err
	}

	if c.isES2() {
		c.Observer.ObserveChunk(cportid, xferLen)
	}

	return nil
}

// HandleCompletion processes a DMA op callback event for desc, per spec.md
// §4.5.
func (c *Context) HandleCompletion(desc *cport.Descriptor, op *dma.Op, event dma.Event) error {
	if event&dma.EventStart != 0 && !c.isES2() {
		if err := c.rebindATABL(desc); err != nil {
			return err
		}
	}

	if event&dma.EventComplete != 0 {
		c.handleComplete(desc, op)
	}

	return nil
}

func (c *Context) rebindATABL(desc *cport.Descriptor) error {
	ch := desc.Channel
	log := c.log().WithCPort(desc.Cport.CPortID).WithOp("rebindATABL")
	activated := false
	if ch.BoundCPortID != channel.Unbound {
		activated = c.Atabl.ReqIsActivated(ch.AtablReq)
	}
	if activated {
		if err := c.Atabl.DeactivateReq(ch.AtablReq); err != nil {
			log.Warn("xfer: atabl deactivate failed", "err", err)
		}
	}

	if ch.BoundCPortID != desc.Cport.CPortID {
		if ch.BoundCPortID != channel.Unbound {
			if err := c.Atabl.DisconnectCPortFromReq(ch.AtablReq); err != nil {
				log.Warn("xfer: atabl disconnect failed", "prev_cport", ch.BoundCPortID, "err", err)
			}
			ch.BoundCPortID = channel.Unbound
		}

		if err := c.Atabl.ConnectCPortToReq(desc.Cport.CPortID, ch.AtablReq); err != nil {
			log.Error("xfer: atabl connect failed", "err", err)
			return err
		}
		c.Observer.ObserveATABLRebind(desc.Cport.CPortID)
	}

	if err := c.Atabl.ActivateReq(ch.AtablReq); err != nil {
		log.Error("xfer: atabl activate failed", "err", err)
		return err
	}
	ch.BoundCPortID = desc.Cport.CPortID
	return nil
}

func (c *Context) handleComplete(desc *cport.Descriptor, op *dma.Op) {
	final := desc.DataOffset >= len(desc.Data)
	ch := desc.Channel

	// CompleteChunk decides, atomically under the CPort's own lock,
	// whether this completion is still ours to act on and what it does to
	// the FIFO. Checking ownership and then mutating Channel/the FIFO as
	// two separate unlocked steps (the original shape of this function)
	// let a racing Flush observe and release the descriptor in the gap
	// between the two — see DESIGN.md's resolution of the
	// reset-vs-in-flight race. A descriptor that Flush already released
	// has been zeroed, so its Cport is nil.
	cp := desc.Cport
	stillOwned := cp != nil && cp.CompleteChunk(desc, final)
	_ = c.DMA.OpFree(op)
	if !stillOwned {
		// A concurrent reset flush already dequeued and canceled this
		// descriptor; it already ran its callback with -ECONNRESET. Freeing
		// the DMA op above is the only cleanup left to do.
		return
	}

	if !final {
		// ES2 partial completion: more chunks remain. CompleteChunk has
		// already cleared Channel, leaving the descriptor queued and
		// unbound for the next chunk (or a racing Flush to cancel).
		c.Wake()
		return
	}

	c.Link.StrobeEOM(desc.Cport)

	c.Observer.ObserveComplete(desc.Cport.CPortID, len(desc.Data), 0)
	if desc.Callback != nil {
		desc.Callback(0, desc.Data, desc.Priv)
	}
	if !c.isES2() {
		if err := c.Atabl.TransferCompleted(ch.AtablReq); err != nil {
			c.log().WithCPort(desc.Cport.CPortID).WithOp("handleComplete").Warn("xfer: atabl transfer_completed failed", "err", err)
		}
	}
	cport.ReleaseDescriptor(desc)
}
