package main

import "github.com/boxtvstar/ai-split-hd/internal/session"

// tileView is the JSON shape of one tile, shared by the HTTP API and the
// MCP tools.
type tileView struct {
	ID        int    `json:"id"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Enhanced  bool   `json:"enhanced"`
	Enhancing bool   `json:"enhancing"`
	Error     string `json:"error,omitempty"`
}

type tilesOutput struct {
	Session    string     `json:"session"`
	Generation uint64     `json:"generation"`
	Rows       int        `json:"rows"`
	Cols       int        `json:"cols"`
	Tiles      []tileView `json:"tiles"`
}

func viewOf(t session.Tile) tileView {
	v := tileView{
		ID:        t.ID,
		Row:       t.Row,
		Col:       t.Col,
		Width:     t.Width,
		Height:    t.Height,
		Enhanced:  t.IsEnhanced(),
		Enhancing: t.Enhancing,
	}
	if t.Failed() {
		v.Error = t.LastErr.Error()
	}
	return v
}

func outputOf(s *session.Session) tilesOutput {
	tiles := s.Tiles()
	rows, cols := s.Grid()
	out := tilesOutput{
		Session:    s.ID(),
		Generation: s.Generation(),
		Rows:       rows,
		Cols:       cols,
		Tiles:      make([]tileView, len(tiles)),
	}
	for i, tile := range tiles {
		out.Tiles[i] = viewOf(tile)
	}
	return out
}
