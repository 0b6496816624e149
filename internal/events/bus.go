package events

import (
	"sync"
	"time"
)

// Event is a settlement state transition pushed to connected clients. UserID
// scopes delivery: a subscriber only sees its own records move.
type Event struct {
	Type   string `json:"type"`
	UserID string `json:"-"`
	Data   any    `json:"data"`
	TS     int64  `json:"ts"`
}

type subscriber struct {
	userID string
	ch     chan Event
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]*subscriber)}
}

func (b *Bus) Subscribe(userID string) chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = &subscriber{userID: userID, ch: ch}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish drops events for slow subscribers rather than blocking settlement.
func (b *Bus) Publish(evt Event) {
	if evt.TS == 0 {
		evt.TS = time.Now().UnixMilli()
	}
	b.mu.RLock()
	for ch, sub := range b.subs {
		if sub.userID != "" && evt.UserID != "" && sub.userID != evt.UserID {
			continue
		}
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
