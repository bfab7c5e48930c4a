// Package notify is the hook for out-of-band "new message" notifications.
// Actual delivery (SMS in production) lives outside this process; the hub
// only decides when a notification is due.
package notify

import (
	"sync"
	"time"
)

type Notifier interface {
	MessagePosted(dropId, author, kind string)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) MessagePosted(dropId, author, kind string) {}

const debounceWindow = 60 * time.Second

// Debouncer forwards at most one notification per drop+kind per window, so
// a gif right after a text still notifies but repeats of either do not.
type Debouncer struct {
	next Notifier
	now  func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewDebouncer(next Notifier) *Debouncer {
	return &Debouncer{
		next: next,
		now:  time.Now,
		last: make(map[string]time.Time),
	}
}

func (d *Debouncer) MessagePosted(dropId, author, kind string) {
	key := dropId + "|" + kind

	d.mu.Lock()
	now := d.now()
	if last, ok := d.last[key]; ok && now.Sub(last) < debounceWindow {
		d.mu.Unlock()
		return
	}
	d.last[key] = now
	d.mu.Unlock()

	d.next.MessagePosted(dropId, author, kind)
}
