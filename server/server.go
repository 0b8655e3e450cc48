// Package server exposes the indexing engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/okkerlund/strata"
)

// Options configures the optional outer middleware. Zero values disable
// the corresponding layer.
type Options struct {
	// APIKey, when set, requires Bearer authentication on every route
	// except /health.
	APIKey string
	// CORSOrigins is a comma-separated allow list for CORS headers.
	CORSOrigins string
}

type handler struct {
	engine strata.Engine
}

// NewRouter builds the API router: document indexing, status, and
// lifecycle routes behind the standard middleware chain.
func NewRouter(eng strata.Engine, opts Options) chi.Router {
	h := &handler{engine: eng}

	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(corsMiddleware(opts.CORSOrigins))
	r.Use(authMiddleware(opts.APIKey))
	r.Use(logMiddleware)

	r.Post("/index", h.handleIndex)
	r.Get("/documents", h.handleListDocuments)
	r.Get("/documents/{docID}", h.handleStatus)
	r.Post("/documents/{docID}/resume", h.handleResume)
	r.Delete("/documents/{docID}", h.handleDelete)
	r.Get("/health", h.handleHealth)

	return r
}

// POST /index
// Accepts a multipart file upload or a JSON body with a server-local path.
func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			h.indexUpload(ctx, w, file, header.Filename, r.FormValue("subject"))
			return
		}
	}

	var req struct {
		Path    string `json:"path"`
		Subject string `json:"subject,omitempty"`
		Force   bool   `json:"force,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []strata.IndexOption
	if req.Force {
		opts = append(opts, strata.WithForceReindex())
	}
	if req.Subject != "" {
		opts = append(opts, strata.WithSubject(req.Subject))
	}

	report, err := h.engine.Index(ctx, absPath, opts...)
	if err != nil {
		writeEngineError(w, err, "index failed")
		slog.Error("index error", "path", absPath, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// indexUpload saves the uploaded file under a temp dir and indexes it. The
// original filename is kept (sanitised) because the document id derives
// from it.
func (h *handler) indexUpload(ctx context.Context, w http.ResponseWriter, file io.Reader, filename, subject string) {
	safeName := filepath.Base(filename)
	tmpPath := filepath.Join(os.TempDir(), safeName)

	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process upload")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save upload")
		slog.Error("saving upload", "error", err)
		return
	}
	dst.Close()
	defer os.Remove(tmpPath)

	var opts []strata.IndexOption
	if subject != "" {
		opts = append(opts, strata.WithSubject(subject))
	}
	report, err := h.engine.Index(ctx, tmpPath, opts...)
	if err != nil {
		writeEngineError(w, err, "index failed")
		slog.Error("index error", "file", safeName, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /documents/{docID}/resume
func (h *handler) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	docID := chi.URLParam(r, "docID")
	report, err := h.engine.Resume(ctx, docID)
	if err != nil {
		writeEngineError(w, err, "resume failed")
		slog.Error("resume error", "doc_id", docID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /documents/{docID}
func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	status, err := h.engine.Status(r.Context(), docID)
	if err != nil {
		writeEngineError(w, err, "status failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// DELETE /documents/{docID}
func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if err := h.engine.Delete(r.Context(), docID); err != nil {
		writeEngineError(w, err, "delete failed")
		slog.Error("delete error", "doc_id", docID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine sentinel errors to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, strata.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	case errors.Is(err, strata.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, strata.ErrParseFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, strata.ErrExtractionIncomplete):
		writeError(w, http.StatusAccepted, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
