package sbd

// TxQueue holds pending transmission requests ordered by TTL, most urgent
// (lowest TTL) first. Insertion is stable: a request is placed before the
// first element with a strictly greater TTL, so equal-TTL requests keep
// their arrival order. The queue never contains the active request and is
// unbounded.
type TxQueue struct {
	items []*TxRequest
}

// Push inserts a request at its TTL-ordered position.
func (q *TxQueue) Push(req *TxRequest) {
	for i, item := range q.items {
		if req.TTL < item.TTL {
			q.items = append(q.items, nil)
			copy(q.items[i+1:], q.items[i:])
			q.items[i] = req
			return
		}
	}
	q.items = append(q.items, req)
}

// Pop removes and returns the most urgent request, or nil when empty.
func (q *TxQueue) Pop() *TxRequest {
	if len(q.items) == 0 {
		return nil
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return req
}

// Len returns the number of pending requests.
func (q *TxQueue) Len() int {
	return len(q.items)
}

// Drain removes and returns all pending requests in queue order.
func (q *TxQueue) Drain() []*TxRequest {
	items := q.items
	q.items = nil
	return items
}
