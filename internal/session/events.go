package session

import "github.com/rs/zerolog/log"

// EventType identifies a session change.
type EventType int

const (
	// EventTileUpdated fires when a tile starts or finishes enhancing.
	EventTileUpdated EventType = iota
	// EventSessionReplaced fires when a split or load swaps the tile set.
	EventSessionReplaced
	// EventSessionReset fires when the session is cleared.
	EventSessionReset
	// EventEnhanceFailed fires when an enhancement call fails. Err is set.
	EventEnhanceFailed
)

func (t EventType) String() string {
	switch t {
	case EventTileUpdated:
		return "tile_updated"
	case EventSessionReplaced:
		return "session_replaced"
	case EventSessionReset:
		return "session_reset"
	case EventEnhanceFailed:
		return "enhance_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after each state transition.
type Event struct {
	Type       EventType
	SessionID  string
	Generation uint64
	TileID     int
	Err        error
}

// Subscribe returns a channel of session events and a func that cancels the
// subscription. Delivery never blocks the session: when a subscriber's buffer
// is full the event is dropped for that subscriber. The channel is closed on
// cancel or when the session is closed.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.eventBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// emitLocked fans an event out to subscribers. Callers hold s.mu.
func (s *Session) emitLocked(evt Event) {
	evt.SessionID = s.id
	for _, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			log.Warn().
				Str("session", s.id).
				Str("event", evt.Type.String()).
				Int("tile", evt.TileID).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}
