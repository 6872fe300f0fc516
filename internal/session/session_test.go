package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/grid"
)

// gatedEnhancer blocks every call until release is closed (or the context is
// cancelled) and then answers with out or err.
type gatedEnhancer struct {
	mu      sync.Mutex
	calls   int
	inputs  [][]byte
	started chan struct{}
	release chan struct{}
	out     []byte
	err     error
}

func newGatedEnhancer() *gatedEnhancer {
	return &gatedEnhancer{
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
		out:     []byte("enhanced-png"),
	}
}

func (g *gatedEnhancer) Enhance(ctx context.Context, img []byte) ([]byte, error) {
	g.mu.Lock()
	g.calls++
	g.inputs = append(g.inputs, img)
	out, err := g.out, g.err
	g.mu.Unlock()

	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return out, err
}

func (g *gatedEnhancer) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gatedEnhancer) setResult(out []byte, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.out, g.err = out, err
}

// instantEnhancer answers immediately.
type instantEnhancer struct {
	mu    sync.Mutex
	calls int
}

func (e *instantEnhancer) Enhance(_ context.Context, img []byte) ([]byte, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return append([]byte("hd:"), img[:4]...), nil
}

func sourcePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func splitSession(t *testing.T, enh Enhancer, rows, cols int) *Session {
	t.Helper()
	s := New(enh)
	t.Cleanup(s.Close)
	require.NoError(t, s.Split(context.Background(), sourcePNG(t, 60, 60), rows, cols))
	return s
}

func waitStarted(t *testing.T, g *gatedEnhancer) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("enhancement call did not start")
	}
}

func TestSplitCreatesTiles(t *testing.T) {
	s := splitSession(t, &instantEnhancer{}, 3, 3)

	tiles := s.Tiles()
	require.Len(t, tiles, 9)
	for i, tile := range tiles {
		assert.Equal(t, i+1, tile.ID)
		assert.NotEmpty(t, tile.Original)
		assert.False(t, tile.IsEnhanced())
		assert.False(t, tile.Enhancing)
	}

	rows, cols := s.Grid()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, uint64(1), s.Generation())
	assert.NotNil(t, s.Source())
}

func TestSplitFailureLeavesStateUntouched(t *testing.T) {
	s := splitSession(t, &instantEnhancer{}, 2, 2)
	before := s.Tiles()

	err := s.Split(context.Background(), []byte("garbage"), 2, 2)
	var decodeErr *grid.DecodeError
	assert.ErrorAs(t, err, &decodeErr)

	err = s.Resplit(context.Background(), 0, 4)
	var gridErr *grid.InvalidGridError
	assert.ErrorAs(t, err, &gridErr)

	assert.Equal(t, before, s.Tiles())
	assert.Equal(t, uint64(1), s.Generation())
}

func TestResplitRequiresSource(t *testing.T) {
	s := New(&instantEnhancer{})
	defer s.Close()
	assert.ErrorIs(t, s.Resplit(context.Background(), 2, 2), ErrNoSource)
}

func TestLoadDiscardsTiles(t *testing.T) {
	s := splitSession(t, &instantEnhancer{}, 2, 2)
	src := sourcePNG(t, 20, 20)

	require.NoError(t, s.Load(src))
	assert.Empty(t, s.Tiles())
	assert.Equal(t, src, s.Source())
	assert.Equal(t, uint64(2), s.Generation())

	require.NoError(t, s.Resplit(context.Background(), 2, 2))
	assert.Len(t, s.Tiles(), 4)

	assert.ErrorIs(t, s.Load(nil), ErrEmptySource)
}

func TestRequestEnhanceTwiceMakesOneCall(t *testing.T) {
	g := newGatedEnhancer()
	s := splitSession(t, g, 2, 2)

	assert.True(t, s.RequestEnhance(1))
	waitStarted(t, g)
	assert.False(t, s.RequestEnhance(1), "second request while enhancing must be ignored")

	tile, ok := s.Tile(1)
	require.True(t, ok)
	assert.True(t, tile.Enhancing)

	close(g.release)
	s.Wait()

	assert.Equal(t, 1, g.Calls())
	tile, _ = s.Tile(1)
	assert.False(t, tile.Enhancing)
	assert.Equal(t, []byte("enhanced-png"), tile.Enhanced)
}

func TestRequestEnhanceAfterSuccessIsNoop(t *testing.T) {
	enh := &instantEnhancer{}
	s := splitSession(t, enh, 2, 2)

	require.True(t, s.RequestEnhance(2))
	s.Wait()
	tile, _ := s.Tile(2)
	require.True(t, tile.IsEnhanced())

	assert.False(t, s.RequestEnhance(2))
	s.Wait()
	assert.Equal(t, 1, enh.calls)
}

func TestRequestEnhanceUnknownTile(t *testing.T) {
	s := splitSession(t, &instantEnhancer{}, 2, 2)
	assert.False(t, s.RequestEnhance(0))
	assert.False(t, s.RequestEnhance(5))

	empty := New(&instantEnhancer{})
	defer empty.Close()
	assert.False(t, empty.RequestEnhance(1))
}

func TestEnhanceSendsOriginal(t *testing.T) {
	g := newGatedEnhancer()
	s := splitSession(t, g, 2, 2)
	tile, _ := s.Tile(3)

	require.True(t, s.RequestEnhance(3))
	waitStarted(t, g)
	close(g.release)
	s.Wait()

	require.Len(t, g.inputs, 1)
	assert.Equal(t, tile.Original, g.inputs[0])
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	g := newGatedEnhancer()
	s := splitSession(t, g, 3, 3)

	require.True(t, s.RequestEnhance(4))
	waitStarted(t, g)

	s.Reset()
	assert.Empty(t, s.Tiles())
	assert.Nil(t, s.Source())

	close(g.release)
	s.Wait()

	assert.Empty(t, s.Tiles(), "late result must not resurrect tiles")
}

func TestResplitDiscardsInFlightResult(t *testing.T) {
	g := newGatedEnhancer()
	s := splitSession(t, g, 2, 2)

	require.True(t, s.RequestEnhance(1))
	waitStarted(t, g)

	require.NoError(t, s.Resplit(context.Background(), 2, 2))
	close(g.release)
	s.Wait()

	tile, ok := s.Tile(1)
	require.True(t, ok)
	assert.False(t, tile.IsEnhanced(), "result from the previous generation must be dropped")
	assert.False(t, tile.Enhancing)
}

func TestEnhanceFailureAllowsRetry(t *testing.T) {
	g := newGatedEnhancer()
	transport := errors.New("connection reset")
	g.setResult(nil, transport)
	s := splitSession(t, g, 2, 2)

	events, cancel := s.Subscribe()
	defer cancel()

	require.True(t, s.RequestEnhance(2))
	waitStarted(t, g)
	close(g.release)
	s.Wait()

	tile, _ := s.Tile(2)
	assert.False(t, tile.Enhancing)
	assert.False(t, tile.IsEnhanced())
	assert.True(t, tile.Failed())
	assert.ErrorIs(t, tile.LastErr, transport)

	var failed *Event
	for len(events) > 0 {
		evt := <-events
		if evt.Type == EventEnhanceFailed {
			failed = &evt
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, 2, failed.TileID)
	assert.ErrorIs(t, failed.Err, transport)

	g.setResult([]byte("second-try"), nil)
	require.True(t, s.RequestEnhance(2), "failed tile must accept a manual retry")
	waitStarted(t, g)
	s.Wait()

	tile, _ = s.Tile(2)
	assert.Equal(t, []byte("second-try"), tile.Enhanced)
	assert.NoError(t, tile.LastErr)
	assert.False(t, tile.Failed())
	assert.Equal(t, 2, g.Calls())
}

// failingEnhancer rejects every call.
type failingEnhancer struct{ err error }

func (f failingEnhancer) Enhance(context.Context, []byte) ([]byte, error) {
	return nil, f.err
}

func TestFailuresRecordedWhenSubscriberFallsBehind(t *testing.T) {
	quota := errors.New("quota exhausted")
	s := New(failingEnhancer{err: quota}, WithEventBuffer(1))
	defer s.Close()
	require.NoError(t, s.Split(context.Background(), sourcePNG(t, 60, 60), 10, 10))

	events, cancel := s.Subscribe()
	defer cancel()

	assert.Equal(t, 100, s.EnhanceAll())
	s.Wait()
	assert.LessOrEqual(t, len(events), 1)

	for _, tile := range s.Tiles() {
		assert.False(t, tile.Enhancing, "tile %d", tile.ID)
		assert.True(t, tile.Failed(), "tile %d", tile.ID)
		assert.ErrorIs(t, tile.LastErr, quota, "tile %d", tile.ID)
	}
}

func TestResetClearsFailure(t *testing.T) {
	s := splitSession(t, failingEnhancer{err: errors.New("boom")}, 1, 2)
	require.True(t, s.RequestEnhance(1))
	s.Wait()
	tile, _ := s.Tile(1)
	require.True(t, tile.Failed())

	require.NoError(t, s.Resplit(context.Background(), 1, 2))
	tile, _ = s.Tile(1)
	assert.NoError(t, tile.LastErr)
}

func TestEnhanceAll(t *testing.T) {
	enh := &instantEnhancer{}
	s := splitSession(t, enh, 2, 3)

	require.True(t, s.RequestEnhance(1))
	s.Wait()

	assert.Equal(t, 5, s.EnhanceAll())
	s.Wait()
	assert.Equal(t, 0, s.EnhanceAll())

	for _, tile := range s.Tiles() {
		assert.True(t, tile.IsEnhanced(), "tile %d", tile.ID)
	}
	assert.Equal(t, 6, enh.calls)
}

func TestConcurrentRequestsSingleCallPerTile(t *testing.T) {
	g := newGatedEnhancer()
	s := splitSession(t, g, 2, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.RequestEnhance(1) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	close(g.release)
	s.Wait()
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, g.Calls())
}

func TestEventsFollowTransitions(t *testing.T) {
	s := New(&instantEnhancer{})
	defer s.Close()
	events, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Split(context.Background(), sourcePNG(t, 20, 20), 1, 2))
	require.True(t, s.RequestEnhance(2))
	s.Wait()
	s.Reset()

	var got []EventType
	for len(events) > 0 {
		evt := <-events
		assert.Equal(t, s.ID(), evt.SessionID)
		got = append(got, evt.Type)
	}
	assert.Equal(t, []EventType{
		EventSessionReplaced,
		EventTileUpdated, // enhancing
		EventTileUpdated, // enhanced
		EventSessionReset,
	}, got)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New(&instantEnhancer{}, WithEventBuffer(1))
	defer s.Close()
	_, cancel := s.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Reset()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session blocked on a full subscriber")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	g := newGatedEnhancer()
	s := New(g)
	require.NoError(t, s.Split(context.Background(), sourcePNG(t, 20, 20), 2, 2))
	events, _ := s.Subscribe()

	require.True(t, s.RequestEnhance(1))
	waitStarted(t, g)
	s.Close()
	s.Wait()

	tile, _ := s.Tile(1)
	assert.False(t, tile.IsEnhanced())
	assert.False(t, s.RequestEnhance(2))
	assert.ErrorIs(t, s.Load(sourcePNG(t, 4, 4)), ErrClosed)
	assert.ErrorIs(t, s.Split(context.Background(), sourcePNG(t, 4, 4), 1, 1), ErrClosed)

	for range events {
	}

	late, _ := s.Subscribe()
	_, open := <-late
	assert.False(t, open)
}

func TestExportScenario(t *testing.T) {
	enh := &instantEnhancer{}
	s := New(enh, WithExporter(archive.NewExporter(archive.MethodDeflate)))
	defer s.Close()
	require.NoError(t, s.Split(context.Background(), sourcePNG(t, 300, 300), 3, 3))

	require.True(t, s.RequestEnhance(5))
	s.Wait()

	data, err := s.ExportAll()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Name == "tile-5-hd.png" {
			rc, err := f.Open()
			require.NoError(t, err)
			content, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			tile, _ := s.Tile(5)
			assert.Equal(t, tile.Enhanced, content)
		}
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"tile-1-orig.png", "tile-2-orig.png", "tile-3-orig.png", "tile-4-orig.png",
		"tile-5-hd.png",
		"tile-6-orig.png", "tile-7-orig.png", "tile-8-orig.png", "tile-9-orig.png",
	}, names)

	// Export must not mutate the session.
	tile, _ := s.Tile(5)
	assert.True(t, tile.IsEnhanced())
	assert.Equal(t, uint64(1), s.Generation())
}

func TestExportTile(t *testing.T) {
	s := splitSession(t, &instantEnhancer{}, 2, 2)
	require.True(t, s.RequestEnhance(3))
	s.Wait()

	name, data, err := s.ExportTile(3)
	require.NoError(t, err)
	assert.Equal(t, "tile-3-hd.png", name)
	tile, _ := s.Tile(3)
	assert.Equal(t, tile.Enhanced, data)

	name, _, err = s.ExportTile(4)
	require.NoError(t, err)
	assert.Equal(t, "tile-4-orig.png", name)

	_, _, err = s.ExportTile(42)
	assert.ErrorIs(t, err, ErrTileNotFound)
}

func TestExportAllWithoutTiles(t *testing.T) {
	s := New(&instantEnhancer{})
	defer s.Close()

	_, err := s.ExportAll()
	var archiveErr *archive.ArchiveError
	assert.ErrorAs(t, err, &archiveErr)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "tile_updated", EventTileUpdated.String())
	assert.Equal(t, "session_replaced", EventSessionReplaced.String())
	assert.Equal(t, "session_reset", EventSessionReset.String())
	assert.Equal(t, "enhance_failed", EventEnhanceFailed.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
