// Package session holds the tiles of one split image and drives their
// enhancement.
//
// A Session owns a source image, the tiles produced by the last successful
// split, and a generation counter. Every split, load, and reset bumps the
// generation; an enhancement result is applied only if the generation it was
// started under is still current, so results for a discarded tile set are
// dropped. Each tile can be enhanced at most once and has at most one call in
// flight. All transitions happen under one mutex and are announced on the
// event stream.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/grid"
)

var (
	// ErrNoSource is returned when a resplit is requested before any image is loaded.
	ErrNoSource = errors.New("session: no source image loaded")
	// ErrEmptySource is returned when an empty buffer is loaded.
	ErrEmptySource = errors.New("session: source image is empty")
	// ErrTileNotFound is returned for an unknown tile ID.
	ErrTileNotFound = errors.New("session: tile not found")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session: closed")
)

const defaultEventBuffer = 64

// Enhancer turns a PNG tile into its enhanced PNG. *enhance.Client satisfies it.
type Enhancer interface {
	Enhance(ctx context.Context, img []byte) ([]byte, error)
}

// Tile is a snapshot of one grid cell.
type Tile struct {
	ID        int
	Row       int
	Col       int
	Width     int
	Height    int
	Original  []byte
	Enhanced  []byte
	Enhancing bool
	// LastErr holds the error of the most recent failed enhancement. It is
	// cleared when a new enhancement is accepted.
	LastErr error
}

// Failed reports whether the last enhancement attempt failed and no new one
// has started since.
func (t Tile) Failed() bool {
	return t.LastErr != nil && !t.Enhancing
}

// IsEnhanced reports whether an enhanced image has been stored.
func (t Tile) IsEnhanced() bool {
	return len(t.Enhanced) > 0
}

// Session is safe for concurrent use.
type Session struct {
	id          string
	enhancer    Enhancer
	exporter    *archive.Exporter
	eventBuffer int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	source      []byte
	tiles       []*Tile
	rows, cols  int
	generation  uint64
	closed      bool
	subscribers map[int]chan Event
	nextSubID   int
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session ID. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithExporter sets the archive exporter used by ExportAll.
func WithExporter(x *archive.Exporter) Option {
	return func(s *Session) { s.exporter = x }
}

// WithEventBuffer sets the per-subscriber channel capacity.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// New creates an empty session.
func New(enhancer Enhancer, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		enhancer:    enhancer,
		eventBuffer: defaultEventBuffer,
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exporter == nil {
		s.exporter = archive.NewExporter(archive.MethodDeflate)
	}
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Generation returns the current generation counter.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Grid returns the rows and cols of the current tile set, or 0, 0 when there
// are no tiles.
func (s *Session) Grid() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Source returns the loaded source image, or nil.
func (s *Session) Source() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Load replaces the source image and discards all tiles.
func (s *Session) Load(source []byte) error {
	if len(source) == 0 {
		return ErrEmptySource
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.source = source
	s.tiles = nil
	s.rows, s.cols = 0, 0
	s.generation++
	s.emitLocked(Event{Type: EventSessionReplaced, Generation: s.generation})

	log.Info().Str("session", s.id).Uint64("generation", s.generation).Int("bytes", len(source)).Msg("Source image loaded")
	return nil
}

// Split partitions source into rows x cols tiles and, on success, replaces the
// source and the entire tile set. On failure the session is left untouched.
func (s *Session) Split(ctx context.Context, source []byte, rows, cols int) error {
	cells, err := grid.Split(ctx, source, rows, cols)
	if err != nil {
		log.Warn().Err(err).Str("session", s.id).Int("rows", rows).Int("cols", cols).Msg("Split failed")
		return err
	}

	tiles := make([]*Tile, len(cells))
	for i, c := range cells {
		tiles[i] = &Tile{
			ID:       c.ID,
			Row:      c.Row,
			Col:      c.Col,
			Width:    c.Width,
			Height:   c.Height,
			Original: c.Data,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.source = source
	s.tiles = tiles
	s.rows, s.cols = rows, cols
	s.generation++
	s.emitLocked(Event{Type: EventSessionReplaced, Generation: s.generation})

	log.Info().
		Str("session", s.id).
		Uint64("generation", s.generation).
		Int("rows", rows).
		Int("cols", cols).
		Int("tiles", len(tiles)).
		Msg("Session tiles replaced")
	return nil
}

// Resplit splits the loaded source with a new grid.
func (s *Session) Resplit(ctx context.Context, rows, cols int) error {
	source := s.Source()
	if source == nil {
		return ErrNoSource
	}
	return s.Split(ctx, source, rows, cols)
}

// Reset clears the source and tiles. Calls already in flight finish but their
// results are discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.source = nil
	s.tiles = nil
	s.rows, s.cols = 0, 0
	s.generation++
	s.emitLocked(Event{Type: EventSessionReset, Generation: s.generation})

	log.Info().Str("session", s.id).Uint64("generation", s.generation).Msg("Session reset")
}

// Tiles returns a snapshot of all tiles in row-major order.
func (s *Session) Tiles() []Tile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Tile, len(s.tiles))
	for i, t := range s.tiles {
		out[i] = *t
	}
	return out
}

// Tile returns a snapshot of one tile.
func (s *Session) Tile(id int) (Tile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.lookupLocked(id)
	if t == nil {
		return Tile{}, false
	}
	return *t, true
}

// lookupLocked finds a tile by ID. IDs are 1-based row-major, so the tile
// lives at index id-1. Callers hold s.mu.
func (s *Session) lookupLocked(id int) *Tile {
	if id < 1 || id > len(s.tiles) {
		return nil
	}
	return s.tiles[id-1]
}

// Wait blocks until every enhancement call started so far has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight calls, closes all subscriber channels, and makes
// every later mutation a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	log.Debug().Str("session", s.id).Msg("Session closed")
}
