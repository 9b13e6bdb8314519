package unipro

import "github.com/fparent/unipro-tx-dma/internal/channel"

// Re-exported constants for the public API, keeping the internal/channel
// sentinel value reachable without exposing the package itself.
const (
	// UnboundChannel is the sentinel BoundCPortID value for a DMA channel
	// not currently bound to any CPort.
	UnboundChannel = channel.Unbound

	// DefaultNumChannels is DefaultConfig's channel count.
	DefaultNumChannels = 4
)
