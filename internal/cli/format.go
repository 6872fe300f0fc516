package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/boxtvstar/ai-split-hd/internal/session"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// TileStatus is the one-word state shown for a tile.
func TileStatus(t session.Tile) string {
	switch {
	case t.Enhancing:
		return "enhancing"
	case t.IsEnhanced():
		return "hd"
	case t.Failed():
		return "failed"
	default:
		return "original"
	}
}

// TileSummary counts tiles by enhancement state.
type TileSummary struct {
	Total    int
	Enhanced int
	Pending  int
	Failed   int
}

// SummarizeTiles builds a TileSummary from a session snapshot.
func SummarizeTiles(tiles []session.Tile) TileSummary {
	sum := TileSummary{Total: len(tiles)}
	for _, t := range tiles {
		switch {
		case t.Enhancing:
			sum.Pending++
		case t.IsEnhanced():
			sum.Enhanced++
		case t.Failed():
			sum.Failed++
		}
	}
	return sum
}

// PrintTileTable writes one row per tile.
func PrintTileTable(w io.Writer, tiles []session.Tile) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROW\tCOL\tSIZE\tSTATUS")
	for _, t := range tiles {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%dx%d\t%s\n", t.ID, t.Row, t.Col, t.Width, t.Height, TileStatus(t))
	}
	return tw.Flush()
}
