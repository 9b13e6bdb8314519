// Package atabl defines the ATABL flow-control arbiter contract. ATABL
// multiplexes a small pool of DMA channels across many CPorts on non-ES2
// chip revisions by gating each channel's activation on buffer-space
// availability; this package only describes the collaborator shape (plus
// a fake, see atabl/fake) — the real arbiter is out of scope.
package atabl

// Req identifies an allocated ATABL request slot. Its concrete
// representation is owned by the Device implementation.
type Req any

// Device is the ATABL arbiter collaborator.
type Device interface {
	ReqAlloc() (Req, error)
	ReqFree(req Req) error
	ReqFreeCount() int

	ReqToPeripheralID(req Req) int

	ConnectCPortToReq(cportid uint32, req Req) error
	DisconnectCPortFromReq(req Req) error

	ActivateReq(req Req) error
	DeactivateReq(req Req) error
	ReqIsActivated(req Req) bool

	TransferCompleted(req Req) error

	Close() error
}
