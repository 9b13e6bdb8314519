// Package worker implements the single-consumer drain loop that walks the
// CPort scheduler and submits DMA transfers, per spec.md §4.3/§5.
package worker

import (
	"context"
	"sync"

	"github.com/fparent/unipro-tx-dma/internal/channel"
	"github.com/fparent/unipro-tx-dma/internal/cport"
	"github.com/fparent/unipro-tx-dma/internal/link"
	"github.com/fparent/unipro-tx-dma/internal/logging"
	"github.com/fparent/unipro-tx-dma/internal/scheduler"
	"github.com/fparent/unipro-tx-dma/internal/xfer"
)

// Worker is the single goroutine that drains every CPort's TX FIFO, one
// descriptor at a time, as DMA channels and buffer space become available.
type Worker struct {
	dir     cport.Directory
	link    link.Link
	pool    *channel.Pool
	xfer    *xfer.Context
	log     *logging.Logger
	cpuAff  int

	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Worker. cpuAffinity is the CPU to pin the drain-loop
// goroutine to (platform-specific, Linux only); -1 disables pinning.
func New(dir cport.Directory, lk link.Link, pool *channel.Pool, xc *xfer.Context, log *logging.Logger, cpuAffinity int) *Worker {
	return &Worker{
		dir:    dir,
		link:   lk,
		pool:   pool,
		xfer:   xc,
		log:    log,
		cpuAff: cpuAffinity,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Wake re-arms the drain loop: spec.md §5's "post on tx_fifo_lock". It is
// safe to call from any goroutine, any number of times; excess wakes
// coalesce into the next drain pass instead of queuing up, which is the
// direct Go translation of a counting semaphore collapsed to an edge
// signal — the worker only ever cares whether *something* changed since
// its last pass, never how many times.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start launches the drain-loop goroutine and returns without waiting for
// it to run; Stop (or ctx's cancellation) ends it.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop cancels the drain loop and waits for it to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.done)

	bindCPU(w.cpuAff, w.log)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		w.drain()
	}
}

// drain repeatedly picks the next ready descriptor and submits it until
// the scheduler finds nothing left to do.
func (w *Worker) drain() {
	var nextCPort uint32
	for {
		desc, ok := scheduler.Pick(w.dir, w.link, nextCPort, w.flush)
		if !ok {
			return
		}
		nextCPort = desc.Cport.CPortID + 1
		ch := w.pool.For(desc.Cport.CPortID)

		if err := w.xfer.Submit(desc, ch); err != nil {
			// On a DMA op alloc or enqueue failure Submit has already
			// rolled the descriptor back and re-armed the wake signal; its
			// other errors (no free space, a non-ES2 resume) re-arm
			// nothing. Either way, stop this pass rather than spin hot
			// against the same failing descriptor.
			return
		}
	}
}

// econnreset mirrors the original C's -ECONNRESET status delivered to every
// descriptor callback a CPort flush drains.
const econnreset = -104

func (w *Worker) flush(c *cport.CPort) {
	c.Flush(econnreset)
	if err := w.link.ResetCPort(c.CPortID); err != nil {
		w.log.WithCPort(c.CPortID).WithOp("flush").Warn("worker: link reset_cport failed", "err", err)
	}
	c.PendingReset = false
	if c.ResetCompletionFunc != nil {
		c.ResetCompletionFunc(c.CPortID, c.ResetCompletionPriv)
	}
	c.ResetCompletionFunc = nil
	c.ResetCompletionPriv = nil
}
