//go:build !linux

package worker

import "github.com/fparent/unipro-tx-dma/internal/logging"

// bindCPU is a no-op outside Linux: SchedSetaffinity has no portable
// equivalent, the same constraint the teacher's kernelopcode_stub.go
// build-tag split documents for io_uring opcodes.
func bindCPU(cpu int, log *logging.Logger) {}
