package sbd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByTTL(t *testing.T) {
	q := &TxQueue{}
	q.Push(&TxRequest{ID: 1, TTL: 5})
	q.Push(&TxRequest{ID: 2, TTL: 1})
	q.Push(&TxRequest{ID: 3, TTL: 3})
	q.Push(&TxRequest{ID: 4, TTL: 1})

	var ids []uint16
	var ttls []uint16
	for req := q.Pop(); req != nil; req = q.Pop() {
		ids = append(ids, req.ID)
		ttls = append(ttls, req.TTL)
	}

	assert.Equal(t, []uint16{1, 1, 3, 5}, ttls)
	// Equal TTLs keep arrival order: ID 2 arrived before ID 4.
	assert.Equal(t, []uint16{2, 4, 3, 1}, ids)
}

func TestQueuePopEmpty(t *testing.T) {
	q := &TxQueue{}
	assert.Nil(t, q.Pop())
	assert.Equal(t, 0, q.Len())
}

func TestQueueRoundTrip(t *testing.T) {
	q := &TxQueue{}
	req := &TxRequest{ID: 9, TTL: 60, Source: 31, Destination: 16, Payload: []byte{0x01, 0x02}}
	q.Push(req)

	got := q.Pop()
	require.Same(t, req, got)
	assert.False(t, got.HasValidMSN())
	assert.Equal(t, 0, q.Len())
}

func TestQueueDrain(t *testing.T) {
	q := &TxQueue{}
	q.Push(&TxRequest{ID: 1, TTL: 2})
	q.Push(&TxRequest{ID: 2, TTL: 1})

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, uint16(2), drained[0].ID)
	assert.Equal(t, uint16(1), drained[1].ID)
	assert.Equal(t, 0, q.Len())
}
