package unipro

import (
	"github.com/fparent/unipro-tx-dma/internal/atabl"
	"github.com/fparent/unipro-tx-dma/internal/cport"
	"github.com/fparent/unipro-tx-dma/internal/dma"
	"github.com/fparent/unipro-tx-dma/internal/link"
	"github.com/fparent/unipro-tx-dma/internal/logging"
	"github.com/fparent/unipro-tx-dma/internal/xfer"
)

// Config holds the engine's build-time-equivalent configuration: the
// values the original C expressed as Kconfig options plus the chip
// revision, now plain fields passed into NewEngine so the whole engine is
// constructible in a test without build tags.
type Config struct {
	// NumChannels is the number of DMA channels to request
	// (CONFIG_ARCH_UNIPROTX_DMA_NUM_CHANNELS). Must be > 0.
	NumChannels int

	// WriteMemoryBarrier selects the ATABL handshake threshold:
	// 0x10 when true (CONFIG_ARCH_UNIPROTX_DMA_WMB set), 0x20 otherwise.
	WriteMemoryBarrier bool

	// RevisionES2 selects the ES2 software-chunked code path. On ES2
	// there is no ATABL device and Drivers.Atabl must be nil.
	RevisionES2 bool

	// WorkerCPU pins the drain-loop goroutine to this CPU (Linux only).
	// -1 (the default) disables pinning.
	WorkerCPU int
}

// DefaultConfig returns a Config with WorkerCPU disabled and the non-ES2,
// non-WMB handshake threshold — the common case for a development or test
// setup.
func DefaultConfig() Config {
	return Config{
		NumChannels: DefaultNumChannels,
		WorkerCPU:   -1,
	}
}

// Drivers bundles the external hardware collaborators this engine drives.
// All are out of scope to implement for real (spec.md §1); a caller wires
// in either real platform drivers or the fake implementations under
// internal/*/fake.
type Drivers struct {
	DMA       dma.Device
	Atabl     atabl.Device // nil when Config.RevisionES2 is true
	Link      link.Link
	Directory cport.Directory
}

// Option customizes an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the engine's logger. The default is
// logging.Default().
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithObserver overrides the engine's xfer.Observer. The default is a
// MetricsObserver backed by the engine's own Metrics().
func WithObserver(obs xfer.Observer) Option {
	return func(e *Engine) { e.observer = obs }
}
