package verification

import (
	"sync"

	"devtrust/internal/domain"
)

// ToDeviceRequests indexes to-device requests by other user and
// transaction id.
type ToDeviceRequests struct {
	mu       sync.Mutex
	requests map[domain.UserID]map[string]*Request
}

// NewToDeviceRequests returns an empty registry.
func NewToDeviceRequests() *ToDeviceRequests {
	return &ToDeviceRequests{requests: make(map[domain.UserID]map[string]*Request)}
}

// Get returns the request for (user, txn), or nil.
func (t *ToDeviceRequests) Get(user domain.UserID, txn string) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[user][txn]
}

// GetByEvent looks up the request an inbound event belongs to.
func (t *ToDeviceRequests) GetByEvent(ev *Event) *Request {
	return t.Get(ev.Sender, ToDeviceTransactionID(ev))
}

// Set stores r under (user, txn).
func (t *ToDeviceRequests) Set(user domain.UserID, txn string, r *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byTxn, ok := t.requests[user]
	if !ok {
		byTxn = make(map[string]*Request)
		t.requests[user] = byTxn
	}
	byTxn[txn] = r
}

// SetByRequest stores r under its channel's user and transaction id.
func (t *ToDeviceRequests) SetByRequest(r *Request) {
	t.Set(r.Channel().UserID(), r.Channel().TransactionID(), r)
}

// Remove drops (user, txn).
func (t *ToDeviceRequests) Remove(user domain.UserID, txn string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if byTxn, ok := t.requests[user]; ok {
		delete(byTxn, txn)
		if len(byTxn) == 0 {
			delete(t.requests, user)
		}
	}
}

// FindRequestInProgress returns a pending request to user addressed to
// exactly devices, or nil.
func (t *ToDeviceRequests) FindRequestInProgress(user domain.UserID, devices []domain.DeviceID) *Request {
	t.mu.Lock()
	candidates := make([]*Request, 0, len(t.requests[user]))
	for _, r := range t.requests[user] {
		candidates = append(candidates, r)
	}
	t.mu.Unlock()

	for _, r := range candidates {
		ch, ok := r.Channel().(*ToDeviceChannel)
		if ok && r.Pending() && ch.IsToDevices(devices) {
			return r
		}
	}
	return nil
}

// RequestsInProgress returns every pending request with user.
func (t *ToDeviceRequests) RequestsInProgress(user domain.UserID) []*Request {
	t.mu.Lock()
	candidates := make([]*Request, 0, len(t.requests[user]))
	for _, r := range t.requests[user] {
		candidates = append(candidates, r)
	}
	t.mu.Unlock()

	var out []*Request
	for _, r := range candidates {
		if r.Pending() {
			out = append(out, r)
		}
	}
	return out
}

// RoomRequests indexes timeline requests by room and transaction id.
type RoomRequests struct {
	mu       sync.Mutex
	requests map[domain.RoomID]map[string]*Request
}

// NewRoomRequests returns an empty registry.
func NewRoomRequests() *RoomRequests {
	return &RoomRequests{requests: make(map[domain.RoomID]map[string]*Request)}
}

// Get returns the request for (room, txn), or nil.
func (t *RoomRequests) Get(room domain.RoomID, txn string) *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[room][txn]
}

// GetByEvent looks up the request a timeline event belongs to.
func (t *RoomRequests) GetByEvent(ev *Event) *Request {
	return t.Get(ev.RoomID, RoomTransactionID(ev))
}

// Set stores r under (room, txn).
func (t *RoomRequests) Set(room domain.RoomID, txn string, r *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byTxn, ok := t.requests[room]
	if !ok {
		byTxn = make(map[string]*Request)
		t.requests[room] = byTxn
	}
	byTxn[txn] = r
}

// SetByRequest stores r under its channel's room and transaction id.
func (t *RoomRequests) SetByRequest(r *Request) {
	t.Set(r.Channel().RoomID(), r.Channel().TransactionID(), r)
}

// Remove drops (room, txn).
func (t *RoomRequests) Remove(room domain.RoomID, txn string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if byTxn, ok := t.requests[room]; ok {
		delete(byTxn, txn)
		if len(byTxn) == 0 {
			delete(t.requests, room)
		}
	}
}

// FindRequestInProgress returns the pending request in room, or nil.
func (t *RoomRequests) FindRequestInProgress(room domain.RoomID) *Request {
	t.mu.Lock()
	candidates := make([]*Request, 0, len(t.requests[room]))
	for _, r := range t.requests[room] {
		candidates = append(candidates, r)
	}
	t.mu.Unlock()

	for _, r := range candidates {
		if r.Pending() {
			return r
		}
	}
	return nil
}
