package session

import "github.com/boxtvstar/ai-split-hd/internal/archive"

// ExportAll zips the current tiles, choosing each tile's enhanced image when
// present. The session is not modified.
func (s *Session) ExportAll() ([]byte, error) {
	return s.exporter.ExportAll(s.entries())
}

// ExportTile returns the download name and bytes for one tile.
func (s *Session) ExportTile(id int) (string, []byte, error) {
	t, ok := s.Tile(id)
	if !ok {
		return "", nil, ErrTileNotFound
	}
	name, data := archive.ExportSingle(toEntry(t))
	return name, data, nil
}

func (s *Session) entries() []archive.Entry {
	tiles := s.Tiles()
	entries := make([]archive.Entry, len(tiles))
	for i, t := range tiles {
		entries[i] = toEntry(t)
	}
	return entries
}

func toEntry(t Tile) archive.Entry {
	return archive.Entry{ID: t.ID, Original: t.Original, Enhanced: t.Enhanced}
}
