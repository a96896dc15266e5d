// internal/jobs/broker.go
package jobs

import "sync"

const subscriberBuffer = 8

// Broker fans published snapshots out to live subscribers of a job.
// Snapshots carry the full review list, so a slow subscriber may skip
// intermediate ones without losing reviews.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan *Snapshot]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan *Snapshot]struct{})}
}

// Subscribe returns a channel of snapshots for id and a function to stop
// receiving. The channel is closed after a terminal snapshot.
func (b *Broker) Subscribe(id string) (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, subscriberBuffer)
	b.mu.Lock()
	if b.subs[id] == nil {
		b.subs[id] = make(map[chan *Snapshot]struct{})
	}
	b.subs[id][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id][ch]; ok {
				delete(b.subs[id], ch)
				if len(b.subs[id]) == 0 {
					delete(b.subs, id)
				}
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers snap to every subscriber of its job without blocking.
// A full subscriber drops its oldest pending snapshot.
func (b *Broker) Publish(snap *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[snap.ID]
	for ch := range subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}

	if snap.State.IsTerminal() {
		for ch := range subs {
			close(ch)
		}
		delete(b.subs, snap.ID)
	}
}

// Subscribers returns the number of live subscribers for id
func (b *Broker) Subscribers(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[id])
}
