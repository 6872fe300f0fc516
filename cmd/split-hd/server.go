package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/config"
	"github.com/boxtvstar/ai-split-hd/internal/filehandler"
	"github.com/boxtvstar/ai-split-hd/internal/grid"
	"github.com/boxtvstar/ai-split-hd/internal/session"
)

// apiServer exposes a session registry over JSON HTTP.
type apiServer struct {
	reg         *session.Registry
	maxUpload   int64
	defaultRows int
	defaultCols int
}

func newAPIServer(reg *session.Registry, gridCfg config.GridConfig, maxUploadMB int) *apiServer {
	return &apiServer{
		reg:         reg,
		maxUpload:   int64(maxUploadMB) << 20,
		defaultRows: config.ClampGrid(gridCfg.Rows),
		defaultCols: config.ClampGrid(gridCfg.Cols),
	}
}

func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", a.handleCreate)
	mux.HandleFunc("DELETE /api/sessions/{id}", a.handleDelete)
	mux.HandleFunc("POST /api/sessions/{id}/source", a.handleSource)
	mux.HandleFunc("POST /api/sessions/{id}/split", a.handleSplit)
	mux.HandleFunc("POST /api/sessions/{id}/reset", a.handleReset)
	mux.HandleFunc("GET /api/sessions/{id}/tiles", a.handleTiles)
	mux.HandleFunc("GET /api/sessions/{id}/tiles/{tile}", a.handleTile)
	mux.HandleFunc("POST /api/sessions/{id}/tiles/{tile}/enhance", a.handleEnhance)
	mux.HandleFunc("POST /api/sessions/{id}/enhance", a.handleEnhanceAll)
	mux.HandleFunc("GET /api/sessions/{id}/archive", a.handleArchive)
	mux.HandleFunc("GET /api/sessions/{id}/events", a.handleEvents)
	return withLogging(withCORS(mux))
}

// lookup resolves {id}, writing a 404 when the session is unknown.
func (a *apiServer) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := a.reg.Get(r.PathValue("id"))
	if !ok {
		httpError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func tileID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("tile"))
	if err != nil || id < 1 {
		httpError(w, http.StatusBadRequest, "tile must be a positive integer")
		return 0, false
	}
	return id, true
}

// POST /api/sessions
func (a *apiServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	s := a.reg.Create()
	respondJSON(w, http.StatusCreated, map[string]string{"id": s.ID()})
}

// DELETE /api/sessions/{id}
func (a *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !a.reg.Delete(r.PathValue("id")) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/sessions/{id}/source
//
// Accepts a multipart form with an "image" file, a JSON body
// {"data_url": "data:image/png;base64,..."}, or the raw image bytes.
func (a *apiServer) handleSource(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	data, err := a.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("image exceeds %d bytes", a.maxUpload))
			return
		}
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Load(data); err != nil {
		writeSessionError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"bytes":      len(data),
		"mime_type":  filehandler.DetectMIME(data),
		"generation": s.Generation(),
	})
}

func (a *apiServer) readUpload(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("multipart field \"image\": %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)

	case "application/json":
		var req struct {
			DataURL string `json:"data_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid request body: %w", err)
		}
		_, data, err := filehandler.FromDataURL(req.DataURL)
		return data, err

	default:
		return io.ReadAll(r.Body)
	}
}

// POST /api/sessions/{id}/split  {"rows": 3, "cols": 3}
func (a *apiServer) handleSplit(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}

	var req struct {
		Rows *int `json:"rows"`
		Cols *int `json:"cols"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	rows, cols := a.defaultRows, a.defaultCols
	if req.Rows != nil {
		rows = config.ClampGrid(*req.Rows)
	}
	if req.Cols != nil {
		cols = config.ClampGrid(*req.Cols)
	}

	if err := s.Resplit(r.Context(), rows, cols); err != nil {
		writeSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outputOf(s))
}

// POST /api/sessions/{id}/reset
func (a *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	s.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/sessions/{id}/tiles
func (a *apiServer) handleTiles(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, outputOf(s))
}

// tileDownload picks the bytes served for one tile snapshot: the enhanced
// image when present unless original is set.
func tileDownload(t session.Tile, original bool) (string, []byte) {
	if original {
		return archive.FileName(t.ID, false), t.Original
	}
	return archive.ExportSingle(archive.Entry{ID: t.ID, Original: t.Original, Enhanced: t.Enhanced})
}

// GET /api/sessions/{id}/tiles/{tile}[?preview=N][&original=1]
func (a *apiServer) handleTile(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	id, ok := tileID(w, r)
	if !ok {
		return
	}

	t, ok := s.Tile(id)
	if !ok {
		writeSessionError(w, session.ErrTileNotFound)
		return
	}

	q := r.URL.Query()
	name, data := tileDownload(t, q.Get("original") == "1")

	if p := q.Get("preview"); p != "" {
		maxDim, err := strconv.Atoi(p)
		if err != nil || maxDim < 1 {
			maxDim = filehandler.DefaultThumbnailMaxDimension
		}
		preview, err := filehandler.GeneratePreview(data, maxDim)
		if err != nil {
			log.Warn().Err(err).Int("tile", id).Msg("Failed to generate preview")
			httpError(w, http.StatusInternalServerError, "preview generation failed")
			return
		}
		w.Header().Set("Content-Type", filehandler.MIMETypePNG)
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(preview)
		return
	}

	w.Header().Set("Content-Type", filehandler.MIMETypePNG)
	w.Header().Set("Content-Disposition", attachment(name))
	w.Write(data)
}

// POST /api/sessions/{id}/tiles/{tile}/enhance
func (a *apiServer) handleEnhance(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	id, ok := tileID(w, r)
	if !ok {
		return
	}
	if _, exists := s.Tile(id); !exists {
		httpError(w, http.StatusNotFound, "tile not found")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": s.RequestEnhance(id)})
}

// POST /api/sessions/{id}/enhance
func (a *apiServer) handleEnhanceAll(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]int{"accepted": s.EnhanceAll()})
}

// GET /api/sessions/{id}/archive
func (a *apiServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}

	data, err := s.ExportAll()
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(archive.ArchiveName(time.Now())))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// eventView is the JSON payload of one server-sent event.
type eventView struct {
	Type       string `json:"type"`
	Generation uint64 `json:"generation"`
	TileID     int    `json:"tile,omitempty"`
	Error      string `json:"error,omitempty"`
}

// GET /api/sessions/{id}/events
func (a *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's WriteTimeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Debug().Err(err).Msg("Could not clear write deadline for event stream")
	}

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			view := eventView{Type: evt.Type.String(), Generation: evt.Generation, TileID: evt.TileID}
			if evt.Err != nil {
				view.Error = evt.Err.Error()
			}
			payload, _ := json.Marshal(view)
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", view.Type, payload); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeSessionError maps session, grid, and archive errors to status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	var (
		gridErr    *grid.InvalidGridError
		decodeErr  *grid.DecodeError
		archiveErr *archive.ArchiveError
	)
	switch {
	case errors.Is(err, session.ErrTileNotFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrNoSource):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrEmptySource):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrClosed):
		httpError(w, http.StatusGone, err.Error())
	case errors.As(err, &gridErr):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &decodeErr):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &archiveErr):
		httpError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Unhandled session error")
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": strings.TrimSpace(name)})
}
