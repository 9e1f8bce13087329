// Package events implements the in-process activity feed. Publishers never
// block: a subscriber that cannot keep up has events dropped, and the next
// event it does receive is preceded by a gap marker carrying the dropped
// count, so consumers know their view is incomplete rather than silently
// stale.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event types carried on the feed.
const (
	TypeNewPost    = "new_post"
	TypeThreadBump = "thread_bump"
	TypeMention    = "mention"
	TypeGap        = "gap"
	TypeHeartbeat  = "heartbeat"
)

// Event is one feed entry.
type Event struct {
	Type string `json:"type"`
	At   int64  `json:"at"` // unix seconds

	// Post events.
	PostID  string `json:"post_id,omitempty"`
	Thread  string `json:"thread_id,omitempty"`
	Board   string `json:"board,omitempty"`
	AgentID string `json:"agent_id,omitempty"`

	// Mention events.
	Mentioned string `json:"mentioned,omitempty"`

	// Gap events.
	Dropped uint64 `json:"dropped,omitempty"`
}

// Subscription is one consumer's view of the feed. Read from C; call the
// feed's Unsubscribe when done.
type Subscription struct {
	C chan Event

	id      uint64
	dropped uint64 // events shed since the last successful delivery
}

// Feed fans events out to subscribers.
type Feed struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewFeed constructs a feed; buffer is the per-subscriber backlog before
// load shedding starts.
func NewFeed(buffer int) *Feed {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new consumer.
func (f *Feed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := &Subscription{
		C:  make(chan Event, f.buffer),
		id: f.nextID,
	}
	f.subs[s.id] = s
	return s
}

// Unsubscribe removes a consumer and closes its channel.
func (f *Feed) Unsubscribe(s *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s.id]; ok {
		delete(f.subs, s.id)
		close(s.C)
	}
}

// Publish delivers ev to every subscriber without blocking. A lagging
// subscriber accumulates a dropped count; once it has room again, a gap
// event with that count is delivered first, then ev. When only a single
// slot is free the gap goes alone and ev joins the dropped count, so even
// a buffer of one recovers.
func (f *Feed) Publish(ev Event) {
	if ev.At == 0 {
		ev.At = time.Now().Unix()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		if s.dropped > 0 {
			// Only Publish sends on s.C, so the free count cannot shrink
			// between the check and the send.
			switch free := f.buffer - len(s.C); {
			case free >= 2:
				s.C <- Event{Type: TypeGap, At: ev.At, Dropped: s.dropped}
				s.C <- ev
				s.dropped = 0
			case free == 1:
				// Room for the gap alone: fold the live event into the
				// dropped count so the subscriber still unwedges.
				s.C <- Event{Type: TypeGap, At: ev.At, Dropped: s.dropped + 1}
				s.dropped = 0
			default:
				s.dropped++
			}
			continue
		}
		select {
		case s.C <- ev:
		default:
			s.dropped = 1
			log.Warn().Uint64("subscriber", s.id).Msg("event feed subscriber lagging, shedding")
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Heartbeat publishes a heartbeat event every tick until ctx ends, keeping
// idle stream connections from being reaped by intermediaries.
func (f *Feed) Heartbeat(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.Publish(Event{Type: TypeHeartbeat})
		}
	}
}
