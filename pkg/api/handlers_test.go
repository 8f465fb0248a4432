package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/ordinalworks/chainweave/internal/db"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
)

func testAccountsSchema() []reorgstore.TableSchema {
	return []reorgstore.TableSchema{
		{Name: "accounts", Columns: []string{"id", "balance"}, PrimaryKey: []string{"id"}},
	}
}

func newTestStore(t *testing.T) *reorgstore.Store {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = sqlDB.Exec(`CREATE TABLE accounts (id TEXT PRIMARY KEY, balance INTEGER)`)
	require.NoError(t, err)

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	store := reorgstore.New(sqlDB, testAccountsSchema(), &db.NoOpMaintenance{}, log, "test")
	require.NoError(t, store.EnsureSchema(context.Background()))

	for i, row := range []map[string]any{
		{"id": "a", "balance": int64(10)},
		{"id": "b", "balance": int64(20)},
		{"id": "c", "balance": int64(30)},
	} {
		_, err := sqlDB.Exec(`INSERT INTO accounts (id, balance) VALUES (?, ?)`, row["id"], row["balance"])
		require.NoError(t, err, "seed row %d", i)
	}

	return store
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)
	return NewHandler(newTestStore(t), log)
}

func TestHandlerHealth(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestHandlerListTables(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables", nil)
	w := httptest.NewRecorder()

	h.ListTables(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var tables []TableInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tables))
	require.Len(t, tables, 1)
	require.Equal(t, "accounts", tables[0].Name)
	require.Equal(t, []string{"id", "balance"}, tables[0].Columns)
	require.Equal(t, []string{"id"}, tables[0].PrimaryKey)
}

func TestHandlerGetRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		table          string
		query          string
		expectedStatus int
		expectedRows   int
		expectedTotal  int
	}{
		{
			name:           "default pagination",
			table:          "accounts",
			expectedStatus: http.StatusOK,
			expectedRows:   3,
			expectedTotal:  3,
		},
		{
			name:           "limit applied",
			table:          "accounts",
			query:          "?limit=2",
			expectedStatus: http.StatusOK,
			expectedRows:   2,
			expectedTotal:  3,
		},
		{
			name:           "offset applied",
			table:          "accounts",
			query:          "?limit=2&offset=2",
			expectedStatus: http.StatusOK,
			expectedRows:   1,
			expectedTotal:  3,
		},
		{
			name:           "unknown table",
			table:          "nonexistent",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "invalid limit",
			table:          "accounts",
			query:          "?limit=0",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid offset",
			table:          "accounts",
			query:          "?offset=-1",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHandler(t)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/tables/"+tt.table+"/rows"+tt.query, nil)
			req.SetPathValue("name", tt.table)
			w := httptest.NewRecorder()

			h.GetRows(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp RowsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Len(t, resp.Rows, tt.expectedRows)
			require.Equal(t, tt.expectedTotal, resp.Pagination.Total)
		})
	}
}

func TestHandlerGetRowsMissingName(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tables//rows", nil)
	w := httptest.NewRecorder()

	h.GetRows(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerGetCheckpoint(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkpoint", nil)
	w := httptest.NewRecorder()

	h.GetCheckpoint(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp CheckpointResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SafeCheckpoint)
	require.NotEmpty(t, resp.LatestCheckpoint)
}

func TestParsePagination(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		query          string
		expectedLimit  int
		expectedOffset int
		expectError    bool
	}{
		{name: "defaults", query: "", expectedLimit: defaultRowLimit, expectedOffset: 0},
		{name: "custom limit and offset", query: "?limit=10&offset=5", expectedLimit: 10, expectedOffset: 5},
		{name: "limit too large", query: "?limit=5000", expectError: true},
		{name: "limit not a number", query: "?limit=abc", expectError: true},
		{name: "negative offset", query: "?offset=-5", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/test"+tt.query, nil)
			limit, offset, err := parsePagination(req)

			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expectedLimit, limit)
			require.Equal(t, tt.expectedOffset, offset)
		})
	}
}
