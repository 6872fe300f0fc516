package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/cli"
	"github.com/boxtvstar/ai-split-hd/internal/config"
	"github.com/boxtvstar/ai-split-hd/internal/filehandler"
	"github.com/boxtvstar/ai-split-hd/internal/session"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP server on stdio",
	Long: `Mcp serves the split/enhance workflow as Model Context Protocol tools over
stdin/stdout, for use from an MCP-capable assistant. Logs go to stderr.

Tools: split_image, enhance_tile, list_tiles, export_tiles.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	initStart := time.Now()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enhancer := cli.InitEnhancer(ctx, cfg.Gemini, false)
	reg := session.NewRegistry(enhancer, session.WithExporter(newExporter()))
	defer reg.CloseAll()

	server := newMCPServer(reg, cfg.Grid)

	logStartup("mcp").InitDuration(time.Since(initStart)).Log()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// mcpTools binds the tool handlers to a session registry.
type mcpTools struct {
	reg         *session.Registry
	defaultRows int
	defaultCols int
}

func newMCPServer(reg *session.Registry, gridCfg config.GridConfig) *mcp.Server {
	t := &mcpTools{
		reg:         reg,
		defaultRows: config.ClampGrid(gridCfg.Rows),
		defaultCols: config.ClampGrid(gridCfg.Cols),
	}

	server := mcp.NewServer(&mcp.Implementation{Name: "split-hd", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "split_image",
		Description: "Split a local image file into a rows x cols grid of tiles. Returns a session ID and the tile list.",
	}, t.splitImage)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "enhance_tile",
		Description: "Redraw one tile (or every tile when tile is 0) in HD with Gemini and wait for the result.",
	}, t.enhanceTile)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tiles",
		Description: "List the tiles of a session with their enhancement state, optionally with small previews.",
	}, t.listTiles)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "export_tiles",
		Description: "Write all tiles of a session into a zip file, preferring HD versions.",
	}, t.exportTiles)
	return server
}

type splitImageInput struct {
	Path    string `json:"path" jsonschema:"absolute path of the image to split"`
	Rows    int    `json:"rows,omitempty" jsonschema:"grid rows (default from config)"`
	Cols    int    `json:"cols,omitempty" jsonschema:"grid columns (default from config)"`
	Session string `json:"session,omitempty" jsonschema:"existing session to reuse"`
}

func (t *mcpTools) splitImage(ctx context.Context, _ *mcp.CallToolRequest, in splitImageInput) (*mcp.CallToolResult, tilesOutput, error) {
	path, err := cli.ResolveInputFile(in.Path)
	if err != nil {
		return nil, tilesOutput{}, err
	}
	src, err := filehandler.LoadSourceFile(path)
	if err != nil {
		return nil, tilesOutput{}, err
	}

	s, err := t.sessionFor(in.Session, true)
	if err != nil {
		return nil, tilesOutput{}, err
	}

	rows, cols := t.defaultRows, t.defaultCols
	if in.Rows != 0 {
		rows = config.ClampGrid(in.Rows)
	}
	if in.Cols != 0 {
		cols = config.ClampGrid(in.Cols)
	}

	if err := s.Split(ctx, src.Data, rows, cols); err != nil {
		return nil, tilesOutput{}, err
	}
	log.Info().Str("session", s.ID()).Str("path", path).Int("rows", rows).Int("cols", cols).Msg("MCP split")
	return nil, outputOf(s), nil
}

type enhanceTileInput struct {
	Session string `json:"session" jsonschema:"session ID returned by split_image"`
	Tile    int    `json:"tile,omitempty" jsonschema:"tile ID (1-based, row-major); 0 enhances every tile"`
	Timeout int    `json:"timeout_seconds,omitempty" jsonschema:"how long to wait (default 120)"`
}

type enhanceTileOutput struct {
	Accepted int      `json:"accepted"`
	Enhanced []int    `json:"enhanced"`
	Failed   []string `json:"failed,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
}

func (t *mcpTools) enhanceTile(ctx context.Context, _ *mcp.CallToolRequest, in enhanceTileInput) (*mcp.CallToolResult, enhanceTileOutput, error) {
	s, err := t.sessionFor(in.Session, false)
	if err != nil {
		return nil, enhanceTileOutput{}, err
	}
	if in.Tile != 0 {
		if _, ok := s.Tile(in.Tile); !ok {
			return nil, enhanceTileOutput{}, fmt.Errorf("tile %d: %w", in.Tile, session.ErrTileNotFound)
		}
	}

	timeout := 120 * time.Second
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	gen := s.Generation()
	var requested []int
	if in.Tile == 0 {
		for _, tile := range s.Tiles() {
			if s.RequestEnhance(tile.ID) {
				requested = append(requested, tile.ID)
			}
		}
	} else if s.RequestEnhance(in.Tile) {
		requested = append(requested, in.Tile)
	}
	out := enhanceTileOutput{Accepted: len(requested)}

	// Events only wake the loop; the tile snapshot decides. The ticker covers
	// events dropped for a full subscriber.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
wait:
	for !settled(s, gen, requested) {
		select {
		case <-ctx.Done():
			return nil, out, ctx.Err()
		case <-timer.C:
			out.TimedOut = true
			break wait
		case _, open := <-events:
			if !open {
				return nil, out, session.ErrClosed
			}
		case <-ticker.C:
		}
	}

	for _, id := range requested {
		tile, ok := s.Tile(id)
		if !ok || s.Generation() != gen {
			continue
		}
		switch {
		case tile.IsEnhanced():
			out.Enhanced = append(out.Enhanced, id)
		case tile.Failed():
			out.Failed = append(out.Failed, fmt.Sprintf("tile %d: %v", id, tile.LastErr))
		}
	}
	return nil, out, nil
}

// settled reports whether none of ids is still enhancing. A split or reset
// since gen discards the old tiles, so nothing more will arrive for them.
func settled(s *session.Session, gen uint64, ids []int) bool {
	if s.Generation() != gen {
		return true
	}
	for _, id := range ids {
		if tile, ok := s.Tile(id); ok && tile.Enhancing {
			return false
		}
	}
	return true
}

type listTilesInput struct {
	Session string `json:"session" jsonschema:"session ID returned by split_image"`
	Preview int    `json:"preview,omitempty" jsonschema:"if set, attach PNG previews no larger than this many pixels"`
}

func (t *mcpTools) listTiles(_ context.Context, _ *mcp.CallToolRequest, in listTilesInput) (*mcp.CallToolResult, tilesOutput, error) {
	s, err := t.sessionFor(in.Session, false)
	if err != nil {
		return nil, tilesOutput{}, err
	}
	out := outputOf(s)
	if in.Preview <= 0 {
		return nil, out, nil
	}

	result := &mcp.CallToolResult{}
	for _, tile := range s.Tiles() {
		_, data, err := s.ExportTile(tile.ID)
		if err != nil {
			continue
		}
		preview, err := filehandler.GeneratePreview(data, in.Preview)
		if err != nil {
			log.Warn().Err(err).Int("tile", tile.ID).Msg("Failed to generate MCP preview")
			continue
		}
		result.Content = append(result.Content,
			&mcp.TextContent{Text: fmt.Sprintf("tile %d (%s)", tile.ID, cli.TileStatus(tile))},
			&mcp.ImageContent{Data: preview, MIMEType: filehandler.MIMETypePNG},
		)
	}
	return result, out, nil
}

type exportTilesInput struct {
	Session string `json:"session" jsonschema:"session ID returned by split_image"`
	Output  string `json:"output,omitempty" jsonschema:"zip path to write (default split-images-<ms>.zip in the working directory)"`
}

type exportTilesOutput struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Tiles int    `json:"tiles"`
	HD    int    `json:"hd"`
}

func (t *mcpTools) exportTiles(_ context.Context, _ *mcp.CallToolRequest, in exportTilesInput) (*mcp.CallToolResult, exportTilesOutput, error) {
	s, err := t.sessionFor(in.Session, false)
	if err != nil {
		return nil, exportTilesOutput{}, err
	}

	data, err := s.ExportAll()
	if err != nil {
		return nil, exportTilesOutput{}, err
	}

	path := in.Output
	if path == "" {
		path = archive.ArchiveName(time.Now())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, exportTilesOutput{}, fmt.Errorf("write %s: %w", path, err)
	}

	out := exportTilesOutput{Path: path, Bytes: len(data)}
	for _, tile := range s.Tiles() {
		out.Tiles++
		if tile.IsEnhanced() {
			out.HD++
		}
	}
	return nil, out, nil
}

// sessionFor returns the named session, or a new one when id is empty and
// create is set.
func (t *mcpTools) sessionFor(id string, create bool) (*session.Session, error) {
	if id == "" {
		if create {
			return t.reg.Create(), nil
		}
		return nil, errors.New("session is required")
	}
	s, ok := t.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return s, nil
}
