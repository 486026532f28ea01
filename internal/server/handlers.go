package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	orikata "github.com/orikata-ai/orikata"
	"github.com/orikata-ai/orikata/internal/model"
	"github.com/orikata-ai/orikata/internal/storage"
)

const maxListLimit = 200

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	engine  *orikata.Engine
	logger  *slog.Logger
	version string
}

// NewHandlers creates the handler set over an engine.
func NewHandlers(engine *orikata.Engine, logger *slog.Logger, version string) *Handlers {
	return &Handlers{engine: engine, logger: logger, version: version}
}

// HandleHealth responds to GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      h.version,
		"running_runs": h.engine.RunningCount(),
	})
}

// HandleListGraphs responds to GET /v1/graphs with each stored graph
// and its current binding status.
func (h *Handlers) HandleListGraphs(w http.ResponseWriter, r *http.Request) {
	slugs := h.engine.GraphSlugs()
	out := make([]model.GraphSummary, 0, len(slugs))
	for _, slug := range slugs {
		def, err := h.engine.Graph(slug)
		if err != nil {
			continue
		}
		binding, err := h.engine.BindingStatus(slug)
		if err != nil {
			continue
		}
		out = append(out, model.GraphSummary{
			Slug:    def.Slug,
			Name:    def.Name,
			Nodes:   len(def.Nodes),
			Edges:   len(def.Edges),
			Binding: binding,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleGetGraph responds to GET /v1/graphs/{slug}.
func (h *Handlers) HandleGetGraph(w http.ResponseWriter, r *http.Request) {
	def, err := h.engine.Graph(r.PathValue("slug"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, def)
}

// HandleGetBinding responds to GET /v1/graphs/{slug}/binding.
func (h *Handlers) HandleGetBinding(w http.ResponseWriter, r *http.Request) {
	binding, err := h.engine.BindingStatus(r.PathValue("slug"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, binding)
}

// HandleStartRun responds to POST /v1/graphs/{slug}/runs. The run
// executes in the background; the response carries its id immediately.
func (h *Handlers) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	var req model.StartRunRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	runID, err := h.engine.StartRun(r.Context(), slug, orikata.StartRunOptions{
		RunID:    req.RunID,
		Input:    req.Input,
		Metadata: req.Metadata,
		Timeout:  time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		switch {
		case errors.Is(err, orikata.ErrUnknownGraph):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
		case errors.Is(err, orikata.ErrDuplicateRun):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		default:
			// Compile failures (skeleton nodes, malformed topology).
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		}
		return
	}

	writeJSON(w, r, http.StatusAccepted, model.StartRunResponse{
		RunID:  runID,
		Status: string(model.RunStatusRunning),
	})
}

// HandleAbortRun responds to POST /v1/runs/{run_id}/abort.
func (h *Handlers) HandleAbortRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if !h.engine.AbortRun(runID) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run is not active")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"run_id": runID,
		"status": string(model.RunStatusCancelled),
	})
}

// HandleGetRun responds to GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// HandleListRuns responds to GET /v1/runs with optional graph, limit,
// and offset query parameters.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := queryInt(r, "offset", 0)

	// One extra row decides has_more without a count query.
	runs, err := h.engine.ListRuns(r.Context(), r.URL.Query().Get("graph"), limit+1, offset)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	writeList(w, r, runs, hasMore, limit, offset)
}

// HandleGetSteps responds to GET /v1/runs/{run_id}/steps.
func (h *Handlers) HandleGetSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.engine.GetSteps(r.Context(), r.PathValue("run_id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, steps)
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found")
	case errors.Is(err, orikata.ErrNoStore):
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInternalError, "no store configured")
	default:
		h.logger.Error("store read failed", "error", err, "path", r.URL.Path)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "storage error")
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
