package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReqAllocRespectsCapacity(t *testing.T) {
	d := New(1)
	_, err := d.ReqAlloc()
	require.NoError(t, err)

	_, err = d.ReqAlloc()
	assert.Error(t, err)
}

func TestReqFreeCountTracksAllocations(t *testing.T) {
	d := New(2)
	assert.Equal(t, 2, d.ReqFreeCount())
	req, _ := d.ReqAlloc()
	assert.Equal(t, 1, d.ReqFreeCount())
	require.NoError(t, d.ReqFree(req))
	assert.Equal(t, 2, d.ReqFreeCount())
}

func TestReqFreeDetectsDoubleFree(t *testing.T) {
	d := New(1)
	req, _ := d.ReqAlloc()
	require.NoError(t, d.ReqFree(req))
	assert.Error(t, d.ReqFree(req))
}

func TestActivateRequiresConnection(t *testing.T) {
	d := New(1)
	req, _ := d.ReqAlloc()
	assert.Error(t, d.ActivateReq(req))

	require.NoError(t, d.ConnectCPortToReq(3, req))
	require.NoError(t, d.ActivateReq(req))
	assert.True(t, d.ReqIsActivated(req))
}

func TestConnectRejectsAlreadyConnectedReq(t *testing.T) {
	d := New(1)
	req, _ := d.ReqAlloc()
	require.NoError(t, d.ConnectCPortToReq(1, req))
	assert.Error(t, d.ConnectCPortToReq(2, req))

	require.NoError(t, d.DisconnectCPortFromReq(req))
	require.NoError(t, d.ConnectCPortToReq(2, req))
}

func TestTransferCompletedDoesNotError(t *testing.T) {
	d := New(1)
	req, _ := d.ReqAlloc()
	require.NoError(t, d.TransferCompleted(req))
	require.NoError(t, d.TransferCompleted(req))
}

func TestReqToPeripheralIDIsStablePerReq(t *testing.T) {
	d := New(2)
	r1, _ := d.ReqAlloc()
	r2, _ := d.ReqAlloc()
	assert.NotEqual(t, d.ReqToPeripheralID(r1), d.ReqToPeripheralID(r2))
	assert.Equal(t, d.ReqToPeripheralID(r1), d.ReqToPeripheralID(r1))
}
