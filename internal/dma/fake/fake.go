// Package fake provides an in-memory dma.Device for tests and
// cmd/unipro-tx-demo, standing in for the real DMA controller the same way
// the teacher's uring.iouring_stub stands in for a real io_uring ring.
package fake

import (
	"fmt"
	"sync"

	"github.com/fparent/unipro-tx-dma/internal/dma"
)

// Device is an in-memory dma.Device. Async controls whether Enqueue
// invokes the op's callback synchronously (the default, for deterministic
// tests) or on a separate goroutine (to exercise the real async
// completion path end to end).
type Device struct {
	mu        sync.Mutex
	maxChans  int
	allocated int
	nextChan  int
	ops       map[*dma.Op]bool

	Async bool

	// FailChanAlloc, if true, makes the next ChanAlloc call fail once and
	// then reset to false, for exercising best-effort channel-pool
	// allocation.
	FailChanAlloc bool
	// FailEnqueue behaves like FailChanAlloc but for Enqueue, for
	// exercising Submit's rollback path.
	FailEnqueue bool
}

// New returns a Device with room for maxChans simultaneously allocated
// channels.
func New(maxChans int) *Device {
	return &Device{maxChans: maxChans, ops: make(map[*dma.Op]bool)}
}

type chanHandle struct {
	id int
}

func (d *Device) ChanAlloc(params dma.ChanParams) (dma.Chan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailChanAlloc {
		d.FailChanAlloc = false
		return nil, fmt.Errorf("fake: chan alloc failed (injected)")
	}
	if d.allocated >= d.maxChans {
		return nil, fmt.Errorf("fake: no free channels")
	}
	d.allocated++
	d.nextChan++
	return &chanHandle{id: d.nextChan}, nil
}

func (d *Device) ChanFree(ch dma.Chan) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocated == 0 {
		return fmt.Errorf("fake: chan free underflow")
	}
	d.allocated--
	return nil
}

func (d *Device) ChanFreeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxChans - d.allocated
}

func (d *Device) OpAlloc() (*dma.Op, error) {
	op := &dma.Op{}
	d.mu.Lock()
	d.ops[op] = true
	d.mu.Unlock()
	return op, nil
}

func (d *Device) OpFree(op *dma.Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ops[op] {
		return fmt.Errorf("fake: double free of op")
	}
	delete(d.ops, op)
	return nil
}

func (d *Device) Enqueue(ch dma.Chan, op *dma.Op) error {
	d.mu.Lock()
	if d.FailEnqueue {
		d.FailEnqueue = false
		d.mu.Unlock()
		return fmt.Errorf("fake: enqueue failed (injected)")
	}
	async := d.Async
	d.mu.Unlock()

	fire := func() {
		if op.Events&dma.EventStart != 0 && op.Callback != nil {
			_ = op.Callback(ch, op, dma.EventStart)
		}
		if op.Events&dma.EventComplete != 0 && op.Callback != nil {
			_ = op.Callback(ch, op, dma.EventComplete)
		}
	}
	if async {
		go fire()
	} else {
		fire()
	}
	return nil
}

func (d *Device) Close() error { return nil }
