package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/importer"
	"github.com/lotas/tabgruppen/internal/notify"
	"github.com/lotas/tabgruppen/internal/types"
)

// maxImportBytes caps an uploaded rule document.
const maxImportBytes = 1 << 20

// API is the engine surface exposed over HTTP.
type API interface {
	Stats(ctx context.Context) (types.Stats, error)
	Classify(ctx context.Context, doc []byte) (importer.Result, error)
	Export(ctx context.Context) (types.RuleDocument, error)
	Undo(ctx context.Context, notificationID string) error
}

// Router serves the extension WebSocket on / and /ws and the local JSON
// API under /api.
func Router(s *Server, api API) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	ws := s.Handler()
	r.Handle("/", ws)
	r.Handle("/ws", ws)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			st, err := api.Stats(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"connected": s.Connected(),
				"stats":     st,
			})
		})
		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			st, err := api.Stats(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})
		r.Get("/rules/export", func(w http.ResponseWriter, req *http.Request) {
			doc, err := api.Export(req.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.Header().Set("Content-Disposition", `attachment; filename="tab-rules.json"`)
			writeJSON(w, http.StatusOK, doc)
		})
		r.Post("/rules/classify", func(w http.ResponseWriter, req *http.Request) {
			data, err := io.ReadAll(io.LimitReader(req.Body, maxImportBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			res, err := api.Classify(req.Context(), data)
			var verr *importer.ValidationError
			switch {
			case errors.As(err, &verr):
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error":  "invalid rule document",
					"issues": verr.Issues,
				})
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})
		r.Post("/notifications/{id}/undo", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			err := api.Undo(req.Context(), id)
			switch {
			case errors.Is(err, notify.ErrExpired):
				writeError(w, http.StatusGone, err)
			case err != nil:
				writeError(w, http.StatusBadGateway, err)
			default:
				w.WriteHeader(http.StatusNoContent)
			}
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Error("api.write", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
