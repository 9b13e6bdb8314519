// Package fake provides an in-memory atabl.Device whose connect/activate
// state transitions are close enough to real ATABL hardware to drive the
// completion handler's START-branch state machine under test.
package fake

import (
	"fmt"
	"sync"

	"github.com/fparent/unipro-tx-dma/internal/atabl"
)

type reqState struct {
	id          int
	cportid     uint32
	connected   bool
	activated   bool
	transferred int
}

// Device is an in-memory atabl.Device.
type Device struct {
	mu       sync.Mutex
	maxReqs  int
	nextID   int
	reqs     map[*reqState]bool
}

// New returns a Device with room for maxReqs simultaneously allocated
// request slots.
func New(maxReqs int) *Device {
	return &Device{maxReqs: maxReqs, reqs: make(map[*reqState]bool)}
}

func (d *Device) ReqAlloc() (atabl.Req, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reqs) >= d.maxReqs {
		return nil, fmt.Errorf("fake: no free atabl requests")
	}
	d.nextID++
	r := &reqState{id: d.nextID}
	d.reqs[r] = true
	return r, nil
}

func (d *Device) ReqFree(req atabl.Req) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := req.(*reqState)
	if !d.reqs[r] {
		return fmt.Errorf("fake: double free of atabl req")
	}
	delete(d.reqs, r)
	return nil
}

func (d *Device) ReqFreeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxReqs - len(d.reqs)
}

func (d *Device) ReqToPeripheralID(req atabl.Req) int {
	return req.(*reqState).id
}

func (d *Device) ConnectCPortToReq(cportid uint32, req atabl.Req) error {
	r := req.(*reqState)
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.connected {
		return fmt.Errorf("fake: atabl req already connected")
	}
	r.connected = true
	r.cportid = cportid
	return nil
}

func (d *Device) DisconnectCPortFromReq(req atabl.Req) error {
	r := req.(*reqState)
	d.mu.Lock()
	defer d.mu.Unlock()
	r.connected = false
	return nil
}

func (d *Device) ActivateReq(req atabl.Req) error {
	r := req.(*reqState)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !r.connected {
		return fmt.Errorf("fake: activate of unconnected atabl req")
	}
	r.activated = true
	return nil
}

func (d *Device) DeactivateReq(req atabl.Req) error {
	r := req.(*reqState)
	d.mu.Lock()
	defer d.mu.Unlock()
	r.activated = false
	return nil
}

func (d *Device) ReqIsActivated(req atabl.Req) bool {
	r := req.(*reqState)
	d.mu.Lock()
	defer d.mu.Unlock()
	return r.activated
}

func (d *Device) TransferCompleted(req atabl.Req) error {
	r := req.(*reqState)
	d.mu.Lock()
	defer d.mu.Unlock()
	r.transferred++
	return nil
}

func (d *Device) Close() error { return nil }
