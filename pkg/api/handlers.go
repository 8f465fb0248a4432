package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
)

const (
	defaultRowLimit = 100
	maxRowLimit     = 1000
)

// TableStore is the read-only surface the API needs from the engine's
// reorg-tracking store: table discovery, paginated row queries and
// checkpoint status.
type TableStore interface {
	Tables() []reorgstore.TableSchema
	QueryRows(ctx context.Context, table string, limit, offset int) ([]map[string]any, int, error)
	GetCheckpointState(ctx context.Context) (reorgstore.CheckpointState, error)
}

// Handler handles HTTP requests for the API.
type Handler struct {
	store TableStore
	log   *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(store TableStore, log *logger.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// Health reports process liveness and the engine's current checkpoint
// progress.
// @Summary Health check
// @Description Check API liveness and the indexing engine's checkpoint progress
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Health status"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.GetCheckpointState(r.Context())
	if err != nil {
		h.log.Errorf("failed to read checkpoint state: %v", err)
		respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		SafeCheckpoint:   string(state.SafeCheckpoint),
		LatestCheckpoint: string(state.LatestCheckpoint),
	})
}

// ListTables returns every table the engine is configured to index.
// @Summary List indexed tables
// @Description Get every user table the reorg-tracking store is configured for
// @Tags Tables
// @Produce json
// @Success 200 {array} TableInfo "List of tables"
// @Router /tables [get]
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	tables := h.store.Tables()

	infos := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		infos = append(infos, TableInfo{Name: t.Name, Columns: t.Columns, PrimaryKey: t.PrimaryKey})
	}

	respondJSON(w, http.StatusOK, infos)
}

// GetRows returns a page of rows from one indexed table.
// @Summary Get rows from an indexed table
// @Description Retrieve a paginated slice of rows from one of the engine's indexed tables
// @Tags Tables
// @Produce json
// @Param name path string true "Table name"
// @Param limit query int false "Maximum number of rows to return" default(100)
// @Param offset query int false "Number of rows to skip" default(0)
// @Success 200 {object} RowsResponse "Rows with pagination info"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 404 {object} ErrorResponse "Table not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /tables/{name}/rows [get]
func (h *Handler) GetRows(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "table name is required")
		return
	}

	if !h.tableExists(name) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("table '%s' not found", name))
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := h.store.QueryRows(r.Context(), name, limit, offset)
	if err != nil {
		h.log.Errorf("failed to query table %s: %v", name, err)
		respondError(w, http.StatusInternalServerError, "failed to query table")
		return
	}

	respondJSON(w, http.StatusOK, RowsResponse{
		Rows: rows,
		Pagination: PaginationResult{
			Total:   total,
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(rows) < total,
		},
	})
}

// GetCheckpoint returns the engine's current safe and latest checkpoints.
// @Summary Get checkpoint state
// @Description Retrieve the reorg-tracking store's safe and latest checkpoint for this namespace
// @Tags Checkpoint
// @Produce json
// @Success 200 {object} CheckpointResponse "Checkpoint state"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /checkpoint [get]
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.GetCheckpointState(r.Context())
	if err != nil {
		h.log.Errorf("failed to read checkpoint state: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read checkpoint state")
		return
	}

	respondJSON(w, http.StatusOK, CheckpointResponse{
		SafeCheckpoint:   string(state.SafeCheckpoint),
		LatestCheckpoint: string(state.LatestCheckpoint),
	})
}

func (h *Handler) tableExists(name string) bool {
	for _, t := range h.store.Tables() {
		if t.Name == name {
			return true
		}
	}
	return false
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultRowLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxRowLimit {
			return 0, 0, fmt.Errorf("invalid limit: must be between 1 and %d", maxRowLimit)
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset: must be non-negative")
		}
	}

	return limit, offset, nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode JSON first to catch any errors before writing status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	if _, err := w.Write(encoded); err != nil {
		// Headers already sent, can only log the error
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
