package server

import (
	"encoding/json"
	"sync"
	"time"
)

// pendingCallTTL bounds how long an unanswered invitation is replayed to
// late joiners.
const pendingCallTTL = 90 * time.Second

type PendingCall struct {
	From     string
	PeerId   string
	Data     json.RawMessage
	StoredAt time.Time
}

// CallBuffer keeps at most one outstanding call invitation per drop,
// last-writer-wins. Entries expire lazily on read; there is no sweeper.
type CallBuffer struct {
	mu    sync.Mutex
	calls map[string]*PendingCall
}

func NewCallBuffer() *CallBuffer {
	return &CallBuffer{calls: make(map[string]*PendingCall)}
}

func (b *CallBuffer) Store(dropId string, call *PendingCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[dropId] = call
}

func (b *CallBuffer) Clear(dropId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.calls, dropId)
}

// Get returns the drop's pending call, evicting it first if it is older
// than pendingCallTTL. Reading a live entry does not consume it.
func (b *CallBuffer) Get(dropId string, now time.Time) *PendingCall {
	b.mu.Lock()
	defer b.mu.Unlock()

	call, ok := b.calls[dropId]
	if !ok {
		return nil
	}

	if now.Sub(call.StoredAt) > pendingCallTTL {
		delete(b.calls, dropId)
		return nil
	}

	return call
}
