package session

import (
	"time"

	"github.com/rs/zerolog/log"
)

// RequestEnhance starts an asynchronous enhancement of tile id. It returns
// false without side effects when the tile does not exist, is already
// enhancing, or is already enhanced.
func (s *Session) RequestEnhance(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestEnhanceLocked(id)
}

// EnhanceAll requests enhancement for every eligible tile and returns how many
// requests were accepted.
func (s *Session) EnhanceAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := 0
	for _, t := range s.tiles {
		if s.requestEnhanceLocked(t.ID) {
			accepted++
		}
	}
	return accepted
}

func (s *Session) requestEnhanceLocked(id int) bool {
	if s.closed {
		return false
	}
	t := s.lookupLocked(id)
	if t == nil || t.Enhancing || len(t.Enhanced) > 0 {
		return false
	}

	t.Enhancing = true
	t.LastErr = nil
	gen := s.generation
	s.emitLocked(Event{Type: EventTileUpdated, Generation: gen, TileID: id})

	s.wg.Add(1)
	go s.runEnhance(gen, id, t.Original)
	return true
}

func (s *Session) runEnhance(gen uint64, id int, original []byte) {
	defer s.wg.Done()

	logger := log.With().Str("session", s.id).Int("tile", id).Uint64("generation", gen).Logger()
	logger.Debug().Msg("Enhancement started")

	start := time.Now()
	enhanced, err := s.enhancer.Enhance(s.ctx, original)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.generation != gen {
		logger.Info().
			Uint64("current_generation", s.generation).
			Bool("closed", s.closed).
			Msg("Discarding enhancement result for superseded tile set")
		return
	}

	t := s.lookupLocked(id)
	if t == nil {
		return
	}
	t.Enhancing = false

	if err != nil {
		t.LastErr = err
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Tile enhancement failed")
		s.emitLocked(Event{Type: EventEnhanceFailed, Generation: gen, TileID: id, Err: err})
		return
	}

	t.Enhanced = enhanced
	logger.Info().Int("bytes", len(enhanced)).Dur("duration", time.Since(start)).Msg("Tile enhanced")
	s.emitLocked(Event{Type: EventTileUpdated, Generation: gen, TileID: id})
}
