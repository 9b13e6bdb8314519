// Package link defines the UniPro link-layer contract this engine reads
// buffer-space state from and strobes End-of-Message on. The real UniPro
// link controller is an out-of-scope external collaborator (spec.md §1);
// this package only describes the shape (plus a fake, see link/fake).
package link

import "github.com/fparent/unipro-tx-dma/internal/cport"

// Link is the UniPro link-layer collaborator.
type Link interface {
	// FreeTxBufferSpace returns the number of bytes currently free in c's
	// hardware TX FIFO.
	FreeTxBufferSpace(c *cport.CPort) int

	// ResetCPort performs the hardware-level CPort reset (distinct from
	// this engine's own FIFO flush, which the reset path drives directly).
	ResetCPort(cportid uint32) error

	// StrobeEOM asserts the End-of-Message strobe for c, marking the end
	// of the descriptor currently being drained.
	StrobeEOM(c *cport.CPort)

	// ReadTxBufferSpaceOffset and WriteTxBufferSpaceOffset read/modify the
	// per-CPort TX buffer space offset register, used only during TxInit
	// (non-ES2) to OR the hardware-handshake threshold into bits 8-15.
	ReadTxBufferSpaceOffset(cportid uint32) uint32
	WriteTxBufferSpaceOffset(cportid uint32, v uint32)
}
