// Package cport implements the per-CPort TX queue and the descriptors that
// flow through it.
//
// Descriptor and CPort share a package rather than living in two: a CPort's
// FIFO holds descriptors and a descriptor carries a back-pointer to its
// CPort, which would otherwise force the two packages to import each other.
// Splitting the FIFO's backing store from its payload type via an
// interface{}-erased container/list would only hide the coupling, not
// remove it, so the two types stay together the way the original C keeps
// both structs reachable from the same translation unit.
package cport

import (
	"container/list"
	"sync"

	"github.com/fparent/unipro-tx-dma/internal/channel"
)

// SendCompletionFunc is invoked exactly once per descriptor, with the final
// status (0 on success, a negative errno-style code otherwise), the
// caller's original buffer, and the opaque priv value passed to SendAsync.
type SendCompletionFunc func(status int, data []byte, priv any)

// Descriptor is a single outbound transfer in flight through a CPort's TX
// FIFO. The caller-owned Data slice is never mutated and is only released
// back to the caller (by invoking Callback) once the full transfer has
// completed and its DMA op has been freed; on non-ES2 chips the ATABL
// transfer-completed notice is sent after Callback returns.
type Descriptor struct {
	Cport      *CPort
	Data       []byte
	DataOffset int
	Callback   SendCompletionFunc
	Priv       any

	// Channel is nil when the descriptor is unbound from any DMA channel.
	// Set by the worker when it begins a transfer, cleared on an ES2
	// partial completion or on submission rollback.
	Channel *channel.Channel

	draining bool
	elem     *list.Element
}

// Len returns the number of bytes left to transfer.
func (d *Descriptor) Len() int {
	return len(d.Data) - d.DataOffset
}

var descriptorPool = sync.Pool{
	New: func() any { return &Descriptor{} },
}

// AcquireDescriptor returns a zeroed descriptor from the pool, avoiding an
// allocation on the SendAsync hot path.
func AcquireDescriptor() *Descriptor {
	return descriptorPool.Get().(*Descriptor)
}

// ReleaseDescriptor returns d to the pool. The caller must have already
// invoked d.Callback exactly once.
func ReleaseDescriptor(d *Descriptor) {
	*d = Descriptor{}
	descriptorPool.Put(d)
}

// CPort is one UniPro CPort's TX-side state: its pending-descriptor FIFO,
// reset bookkeeping, and the hardware TX buffer it drains into. CPort
// instances are owned by a Directory collaborator outside this module's
// scope; this module only reads and mutates the fields below.
type CPort struct {
	CPortID uint32
	TxBuf   uintptr

	PendingReset        bool
	ResetCompletionFunc func(cportid uint32, priv any)
	ResetCompletionPriv any

	mu     sync.Mutex
	txFifo list.List
}

// Enqueue appends d to the back of the FIFO.
func (c *CPort) Enqueue(d *Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d.Cport = c
	d.elem = c.txFifo.PushBack(d)
}

// Front returns the descriptor at the head of the FIFO without removing it,
// or (nil, false) if the FIFO is empty.
func (c *CPort) Front() (*Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.txFifo.Front()
	if e == nil {
		return nil, false
	}
	return e.Value.(*Descriptor), true
}

// Empty reports whether the FIFO has no descriptors.
func (c *CPort) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txFifo.Len() == 0
}

// Forget removes d from the FIFO. It reports false, without modifying
// anything, if d had already been removed concurrently (by Flush racing a
// completion handler) — the caller must treat that as a no-op, not an
// error: see DESIGN.md's resolution of the reset-vs-in-flight-partial race.
func (c *CPort) Forget(d *Descriptor) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.draining || d.elem == nil {
		return false
	}
	c.txFifo.Remove(d.elem)
	d.elem = nil
	return true
}

// CompleteChunk is the DMA completion handler's single entry point back
// into the FIFO. It must be called instead of touching d.Channel or
// d.elem directly, because it is the only place that decides "is this
// completion still ours" and "what does it do to the FIFO" atomically,
// under the same lock Flush uses.
//
// final reports whether this completion finished the whole descriptor
// (the caller has already checked DataOffset against len(Data)) or only
// one ES2 chunk, with more left to submit. When final, d is unlinked from
// the FIFO, the same way Forget does it. When not final, only d.Channel
// is cleared, so the descriptor stays queued — unbound, and therefore
// eligible to be picked up again by the scheduler or canceled by a
// racing Flush.
//
// CompleteChunk reports false, touching nothing, if d was already
// flushed out from under this completion (its callback already ran with
// the flush's status) — the caller must treat that as a no-op, never as
// a reason to inspect or mutate d further.
func (c *CPort) CompleteChunk(d *Descriptor, final bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.draining || d.elem == nil {
		return false
	}
	if final {
		c.txFifo.Remove(d.elem)
		d.elem = nil
	} else {
		d.Channel = nil
	}
	return true
}

// Flush drains every queued descriptor that is not currently in flight on
// a DMA channel, invoking each one's callback with status and marking it
// as draining so a racing completion handler treats it as already gone
// rather than double-freeing it. A descriptor with Channel != nil is
// skipped rather than popped: it is mid-transfer on real DMA hardware
// right now, and per spec.md §4.6 it is drained by its own normal
// COMPLETE event (via CompleteChunk), never by a concurrent Flush —
// popping it here would hand it back to the descriptor pool while the
// hardware (or a fake standing in for it) still holds a live reference to
// it. Flush does not touch PendingReset or ResetCompletionFunc; the
// caller (the reset path) clears those itself once Flush returns.
func (c *CPort) Flush(status int) {
	c.mu.Lock()
	var drained []*Descriptor
	var next *list.Element
	for e := c.txFifo.Front(); e != nil; e = next {
		next = e.Next()
		d := e.Value.(*Descriptor)
		if d.Channel != nil {
			continue
		}
		d.draining = true
		d.elem = nil
		c.txFifo.Remove(e)
		drained = append(drained, d)
	}
	c.mu.Unlock()

	for _, d := range drained {
		if d.Callback != nil {
			d.Callback(status, d.Data, d.Priv)
		}
		ReleaseDescriptor(d)
	}
}

// Directory resolves a CPort by its numeric ID. It is an external
// collaborator: the real CPort table lives outside this module's scope.
type Directory interface {
	Lookup(cportid uint32) (*CPort, bool)
	Count() int
}

// StaticDirectory is a fixed, dense Directory built once at construction
// time. It is the Directory used by tests and cmd/unipro-tx-demo, standing
// in for whatever real platform CPort table a caller wires in production.
type StaticDirectory struct {
	cports []*CPort
}

// NewStaticDirectory builds a StaticDirectory over cports, indexed by their
// position (cports[i].CPortID must equal i for Lookup to find it).
func NewStaticDirectory(cports []*CPort) *StaticDirectory {
	return &StaticDirectory{cports: cports}
}

func (d *StaticDirectory) Lookup(cportid uint32) (*CPort, bool) {
	if int(cportid) < 0 || int(cportid) >= len(d.cports) {
		return nil, false
	}
	c := d.cports[cportid]
	if c == nil {
		return nil, false
	}
	return c, true
}

func (d *StaticDirectory) Count() int {
	return len(d.cports)
}
