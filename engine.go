// Package unipro implements the UniPro TX DMA egress engine: a
// single-producer/single-consumer pipeline that moves outbound UniPro
// payloads from caller buffers into per-CPort hardware TX FIFOs via DMA,
// optionally arbitrated across a small pool of DMA channels by an ATABL
// flow-control device.
package unipro

import (
	"context"
	"fmt"
	"sync"

	"github.com/fparent/unipro-tx-dma/internal/channel"
	"github.com/fparent/unipro-tx-dma/internal/cport"
	"github.com/fparent/unipro-tx-dma/internal/dma"
	"github.com/fparent/unipro-tx-dma/internal/logging"
	"github.com/fparent/unipro-tx-dma/internal/worker"
	"github.com/fparent/unipro-tx-dma/internal/xfer"
)

// Engine is the public entry point: construct with NewEngine, bring the
// DMA/ATABL collaborators online with TxInit, then drive traffic with
// SendAsync/Send, and tear down with Close.
type Engine struct {
	cfg     Config
	drivers Drivers

	log      *logging.Logger
	metrics  *Metrics
	observer xfer.Observer

	mu      sync.Mutex
	started bool
	pool    *channel.Pool
	w       *worker.Worker

	bgCancel context.CancelFunc
}

// NewEngine constructs an unwired Engine. Call TxInit before sending any
// traffic through it.
func NewEngine(cfg Config, drivers Drivers, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		drivers: drivers,
		log:     logging.Default(),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.observer == nil {
		e.observer = NewMetricsObserver(e.metrics)
	}
	return e
}

// Metrics returns the engine's live metrics counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the engine's
// metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// TxInit brings the DMA (and, unless Config.RevisionES2, ATABL)
// collaborators online, allocates the channel pool, and starts the drain
// worker, per spec.md §4.7. A second call while the engine is running
// returns an error.
func (e *Engine) TxInit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return NewError("TxInit", ErrCodeInvalidCPort, EINVAL, "engine already initialized")
	}
	if e.cfg.NumChannels <= 0 {
		return NewError("TxInit", ErrCodeInvalidCPort, EINVAL, "NumChannels must be positive")
	}
	if e.cfg.RevisionES2 && e.drivers.Atabl != nil {
		return NewError("TxInit", ErrCodeInvalidCPort, EINVAL, "ES2 revision must not be given an ATABL device")
	}
	if !e.cfg.RevisionES2 && e.drivers.Atabl == nil {
		return NewError("TxInit", ErrCodeNoDevice, ENODEV, "non-ES2 revision requires an ATABL device")
	}

	if !e.cfg.RevisionES2 {
		threshold := uint32(0x20)
		if e.cfg.WriteMemoryBarrier {
			threshold = 0x10
		}
		count := e.drivers.Directory.Count()
		for cportid := 0; cportid < count; cportid++ {
			if err := ctx.Err(); err != nil {
				return WrapError("TxInit", ErrCodeIOError, EINVAL, err)
			}
			offset := e.drivers.Link.ReadTxBufferSpaceOffset(uint32(cportid))
			e.drivers.Link.WriteTxBufferSpaceOffset(uint32(cportid), offset|(threshold<<8))
		}
	}

	availChan := e.drivers.DMA.ChanFreeCount()
	if availChan > e.cfg.NumChannels {
		availChan = e.cfg.NumChannels
	}

	dstDevice := dma.DevMem
	if !e.cfg.RevisionES2 {
		dstDevice = dma.DevUnipro
		if e.drivers.Atabl.ReqFreeCount() < availChan {
			return NewError("TxInit", ErrCodeNoDevice, ENODEV, "not enough free ATABL requests for requested channel count")
		}
	}

	chanParams := dma.ChanParams{
		SrcDev:       dma.DevMem,
		SrcInc:       dma.IncrAuto,
		DstDev:       dstDevice,
		DstInc:       dma.IncrAuto,
		TransferSize: dma.TransferSize64,
		BurstLen:     dma.BurstLen16,
	}

	pool, err := channel.NewPool(e.drivers.DMA, e.drivers.Atabl, chanParams, availChan)
	if err != nil {
		return WrapError("TxInit", ErrCodeNoDevice, ENODEV, err)
	}
	e.log.Info("unipro: dma channel(s) allocated", "count", pool.Len())

	bgCtx, cancel := context.WithCancel(context.Background())
	e.bgCancel = cancel

	var w *worker.Worker
	xc := &xfer.Context{
		DMA:      e.drivers.DMA,
		Atabl:    e.drivers.Atabl,
		Link:     e.drivers.Link,
		Log:      e.log,
		Observer: e.observer,
		Wake:     func() { w.Wake() },
	}
	w = worker.New(e.drivers.Directory, e.drivers.Link, pool, xc, e.log, e.cfg.WorkerCPU)

	e.pool = pool
	e.w = w
	e.started = true
	w.Start(bgCtx)

	return nil
}

// SendAsync enqueues buf for transmission on cportid and returns
// immediately; cb is invoked exactly once, from the worker goroutine or
// the DMA driver's completion context, once the transfer completes or is
// canceled. SendAsync itself returns 0 on
// successful enqueue or a negative errno (never invoking cb) on rejection,
// per spec.md §6.
func (e *Engine) SendAsync(cportid uint32, buf []byte, cb cport.SendCompletionFunc, priv any) int {
	c, ok := e.drivers.Directory.Lookup(cportid)
	if !ok {
		e.log.WithCPort(cportid).WithOp("SendAsync").Error("unipro: invalid cport id, dropping message")
		return EINVAL
	}
	if c.PendingReset {
		return EPIPE
	}

	desc := cport.AcquireDescriptor()
	desc.Data = buf
	desc.DataOffset = 0
	desc.Callback = cb
	desc.Priv = priv

	c.Enqueue(desc)
	e.metrics.RecordAccept()

	e.mu.Lock()
	w := e.w
	e.mu.Unlock()
	if w != nil {
		w.Wake()
	}

	return 0
}

// Send is the synchronous counterpart to SendAsync: it blocks until the
// transfer completes (or ctx is canceled) and returns the completion
// status as an error. Honoring ctx is an addition beyond spec.md's
// original semaphore-based unipro_send — a Go caller expects Send to
// respect context cancellation — but it does not change the completion
// contract: the descriptor's own callback still fires exactly once
// regardless of whether the caller gave up waiting on it.
func (e *Engine) Send(ctx context.Context, cportid uint32, buf []byte) error {
	result := make(chan int, 1)
	cb := func(status int, _ []byte, _ any) {
		result <- status
	}

	if rc := e.SendAsync(cportid, buf, cb, nil); rc != 0 {
		return NewCPortError("Send", cportid, errCodeForErrno(rc), rc, "send_async rejected descriptor")
	}

	select {
	case status := <-result:
		if status != 0 {
			return NewCPortError("Send", cportid, errCodeForErrno(status), status, "transfer did not complete successfully")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ResetNotify wakes the drain worker so a CPort reset flagged by the
// external CPort layer is processed immediately instead of waiting for the
// next natural wake. It mirrors the original C's unipro_reset_notify,
// which does nothing but post the semaphore.
func (e *Engine) ResetNotify(cportid uint32) {
	e.mu.Lock()
	w := e.w
	e.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// RequestReset marks cportid as pending reset, registers the completion
// hook the flush will invoke once it has drained the FIFO, and wakes the
// worker. This is the full reset entry point a caller uses; ResetNotify
// alone is kept only for fidelity with the original C signature.
func (e *Engine) RequestReset(cportid uint32, onComplete func(cportid uint32, priv any), priv any) error {
	c, ok := e.drivers.Directory.Lookup(cportid)
	if !ok {
		return NewError("RequestReset", ErrCodeInvalidCPort, EINVAL, fmt.Sprintf("unknown cport %d", cportid))
	}
	c.PendingReset = true
	c.ResetCompletionFunc = onComplete
	c.ResetCompletionPriv = priv
	e.metrics.RecordReset()
	e.ResetNotify(cportid)
	return nil
}

// Close stops the drain worker and frees the channel pool. It supplements
// spec.md, which only specifies tx_init's failure-path teardown, with the
// symmetric clean-shutdown path a long-lived Go process needs.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}

	e.w.Stop()
	if e.bgCancel != nil {
		e.bgCancel()
	}
	e.pool.Close(e.drivers.DMA, e.drivers.Atabl)
	e.metrics.Stop()
	e.started = false

	return nil
}

func errCodeForErrno(errno int) ErrorCode {
	switch errno {
	case EINVAL:
		return ErrCodeInvalidCPort
	case ENOMEM:
		return ErrCodeNoMemory
	case EPIPE:
		return ErrCodeCPortResetPending
	case ECONNRESET:
		return ErrCodeConnReset
	case ENOSPC:
		return ErrCodeNoSpace
	case ENODEV:
		return ErrCodeNoDevice
	default:
		return ErrCodeIOError
	}
}
