package detect

import "sync"

// EventFeed is a last-value cache with subscribe-and-replay-latest
// semantics: subscribers immediately receive the most recent event, and a
// slow subscriber's pending event is overwritten rather than blocking the
// publisher.
type EventFeed struct {
	mu     sync.Mutex
	latest DetectionEvent
	subs   map[int]chan DetectionEvent
	nextID int
}

func newEventFeed() *EventFeed {
	return &EventFeed{
		subs: make(map[int]chan DetectionEvent),
	}
}

// Latest returns the most recently published event, or nil if none.
func (f *EventFeed) Latest() DetectionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release the subscription; the channel is closed by it.
func (f *EventFeed) Subscribe() (<-chan DetectionEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	ch := make(chan DetectionEvent, 1)
	if f.latest != nil {
		ch <- f.latest
	}
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// publish replaces the cached latest event and offers it to every
// subscriber without blocking.
func (f *EventFeed) publish(event DetectionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = event
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
			// Drop the stale pending event, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// reset clears the cached latest event but keeps subscriptions.
func (f *EventFeed) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = nil
}
