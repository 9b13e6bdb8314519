package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fparent/unipro-tx-dma/internal/channel"
	"github.com/fparent/unipro-tx-dma/internal/cport"
	"github.com/fparent/unipro-tx-dma/internal/dma"
	dmafake "github.com/fparent/unipro-tx-dma/internal/dma/fake"
	linkfake "github.com/fparent/unipro-tx-dma/internal/link/fake"
	"github.com/fparent/unipro-tx-dma/internal/logging"
	"github.com/fparent/unipro-tx-dma/internal/xfer"
)

type noopObserver struct{}

func (noopObserver) ObserveSubmit(uint32, int)        {}
func (noopObserver) ObserveChunk(uint32, int)         {}
func (noopObserver) ObserveComplete(uint32, int, int) {}
func (noopObserver) ObserveCancel(uint32, int)        {}
func (noopObserver) ObserveATABLRebind(uint32)        {}

func newTestWorker(t *testing.T, cports []*cport.CPort) (*Worker, *linkfake.Link) {
	t.Helper()
	dmaDev := dmafake.New(len(cports) + 1)
	lk := linkfake.New()
	pool, err := channel.NewPool(dmaDev, nil, dma.ChanParams{}, len(cports)+1)
	require.NoError(t, err)

	dir := cport.NewStaticDirectory(cports)

	var w *Worker
	xc := &xfer.Context{
		DMA:      dmaDev,
		Link:     lk,
		Observer: noopObserver{},
		Wake:     func() { w.Wake() },
	}
	w = New(dir, lk, pool, xc, logging.NewLogger(nil), -1)
	return w, lk
}

func TestWakeCoalescesMultipleSignals(t *testing.T) {
	w, _ := newTestWorker(t, []*cport.CPort{{CPortID: 0}})
	w.Wake()
	w.Wake()
	w.Wake()
	// The channel is buffered to 1; excess wakes must not block.
	select {
	case <-w.wake:
	default:
		t.Fatal("expected a coalesced wake to be pending")
	}
	select {
	case <-w.wake:
		t.Fatal("expected only one pending wake after coalescing")
	default:
	}
}

func TestStartStopLifecycle(t *testing.T) {
	w, _ := newTestWorker(t, []*cport.CPort{{CPortID: 0}})
	w.Start(context.Background())
	w.Wake()
	w.Stop()
	// Stop must return once the drain-loop goroutine has exited; a second
	// Stop call must not hang or panic.
	w.Stop()
}

func TestDrainSubmitsQueuedDescriptorEndToEnd(t *testing.T) {
	c0 := &cport.CPort{CPortID: 0}
	w, _ := newTestWorker(t, []*cport.CPort{c0})

	desc := cport.AcquireDescriptor()
	desc.Data = []byte("payload")
	done := make(chan int, 1)
	desc.Callback = func(status int, _ []byte, _ any) { done <- status }
	c0.Enqueue(desc)

	w.Start(context.Background())
	defer w.Stop()
	w.Wake()

	select {
	case status := <-done:
		assert.Equal(t, 0, status)
	case <-time.After(2 * time.Second):
		t.Fatal("descriptor was never drained")
	}
	assert.True(t, c0.Empty())
}

func TestFlushInvokesLinkResetAndClearsPendingReset(t *testing.T) {
	c0 := &cport.CPort{CPortID: 1, PendingReset: true}

	notified := make(chan uint32, 1)
	c0.ResetCompletionFunc = func(cportid uint32, _ any) { notified <- cportid }

	w, lk := newTestWorker(t, []*cport.CPort{{CPortID: 0}, c0})
	w.flush(c0)

	assert.Equal(t, 1, lk.ResetCount)
	assert.False(t, c0.PendingReset)
	assert.Nil(t, c0.ResetCompletionFunc)

	select {
	case got := <-notified:
		assert.EqualValues(t, 1, got)
	default:
		t.Fatal("expected reset completion hook to fire")
	}
}

func TestFlushDrainsQueuedDescriptorsWithConnReset(t *testing.T) {
	c0 := &cport.CPort{CPortID: 2, PendingReset: true}
	desc := cport.AcquireDescriptor()
	desc.Data = []byte("x")
	gotStatus := 0
	desc.Callback = func(status int, _ []byte, _ any) { gotStatus = status }
	c0.Enqueue(desc)

	w, _ := newTestWorker(t, []*cport.CPort{c0})
	w.flush(c0)

	assert.Equal(t, econnreset, gotStatus)
	assert.True(t, c0.Empty())
}
