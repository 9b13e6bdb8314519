//go:build linux

package worker

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/fparent/unipro-tx-dma/internal/logging"
)

// bindCPU pins the calling goroutine's OS thread to cpu, matching the
// teacher's queue.Runner.ioLoop affinity pinning. cpu < 0 disables
// pinning. Must be called from the goroutine to be pinned, before it
// starts doing real work.
func bindCPU(cpu int, log *logging.Logger) {
	if cpu < 0 {
		return
	}

	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		if log != nil {
			log.Warn("worker: failed to set cpu affinity", "cpu", cpu, "err", err)
		}
	}
}
