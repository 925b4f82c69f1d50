package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-pipeline/internal/analytics"
	"ev-pipeline/internal/domain"
	"ev-pipeline/internal/middleware"
	"ev-pipeline/internal/store"
	"ev-pipeline/internal/testutil"
)

var museums = [][]any{
	{"UK", "London", "V&A"},
	{"UK", "London", "Natural History"},
	{"UK", "London", "Science"},
	{"UK", "Edinburgh", "National Galleries"},
	{"UK", "Edinburgh", "John Knox House"},
	{"France", "Paris", "Louvre"},
	{"France", "Paris", "Orsay"},
	{"France", "Marseilles", "Beaux-Art"},
}

// setupTestServer wires the router over an in-memory DuckDB table and the
// given ledger mock.
func setupTestServer(t *testing.T, runs *testutil.MockLoadRunRepo, rl middleware.RateLimitConfig) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(ctx, "", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	schema := domain.Schema{
		{Name: "country", Type: domain.TypeVarchar},
		{Name: "city", Type: domain.TypeVarchar},
		{Name: "museum", Type: domain.TypeVarchar},
	}
	require.NoError(t, s.CreateDestination(ctx, "museums", schema, true))
	require.NoError(t, s.Commit(ctx, "museums", schema.Names(), museums))

	engine, err := analytics.New(s, "museums", logger)
	require.NoError(t, err)

	router := NewRouter(t.Context(), NewHandler(engine, runs, logger), RouterConfig{
		RateLimit:          rl,
		CORSAllowedOrigins: []string{"*"},
		Logger:             logger,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // test server URL
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type relationBody struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

func TestHealth(t *testing.T) {
	srv := setupTestServer(t, &testutil.MockLoadRunRepo{}, middleware.RateLimitConfig{})

	var body map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestCounts(t *testing.T) {
	srv := setupTestServer(t, &testutil.MockLoadRunRepo{}, middleware.RateLimitConfig{})

	var body relationBody
	resp := getJSON(t, srv.URL+"/v1/counts?group_by=country,city", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"country", "city", "count"}, body.Columns)
	assert.Equal(t, 4, body.RowCount)
	require.Len(t, body.Rows, 4)
	assert.Equal(t, "France", body.Rows[0]["country"])
	assert.Equal(t, "Marseilles", body.Rows[0]["city"])
	assert.InDelta(t, 1, body.Rows[0]["count"], 0.001)
	assert.Equal(t, "London", body.Rows[3]["city"])
	assert.InDelta(t, 3, body.Rows[3]["count"], 0.001)
}

func TestCounts_OrderBy(t *testing.T) {
	srv := setupTestServer(t, &testutil.MockLoadRunRepo{}, middleware.RateLimitConfig{})

	var body relationBody
	getJSON(t, srv.URL+"/v1/counts?group_by=country&order_by=-count", &body)
	require.Len(t, body.Rows, 2)
	assert.Equal(t, "UK", body.Rows[0]["country"])
	assert.InDelta(t, 5, body.Rows[0]["count"], 0.001)
}

func TestCounts_Errors(t *testing.T) {
	srv := setupTestServer(t, &testutil.MockLoadRunRepo{}, middleware.RateLimitConfig{})

	tests := []struct {
		name    string
		query   string
		wantMsg string
	}{
		{"missing_group_by", "", "at least one grouping column must be specified"},
		{"blank_group_by", "?group_by=,", "at least one grouping column must be specified"},
		{"unknown_order_column", "?group_by=city&order_by=country", "country"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorBody
			resp := getJSON(t, srv.URL+"/v1/counts"+tt.query, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, http.StatusBadRequest, body.Code)
			assert.Contains(t, body.Message, tt.wantMsg)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestRankings(t *testing.T) {
	srv := setupTestServer(t, &testutil.MockLoadRunRepo{}, middleware.RateLimitConfig{})

	t.Run("top_per_partition", func(t *testing.T) {
		var body relationBody
		resp := getJSON(t, srv.URL+"/v1/rankings?group_by=country,city&partition_by=country&top=1", &body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"country", "city", "count", "count_rank"}, body.Columns)
		require.Len(t, body.Rows, 2)
		assert.Equal(t, "Paris", body.Rows[0]["city"])
		assert.Equal(t, "London", body.Rows[1]["city"])
		for _, row := range body.Rows {
			assert.InDelta(t, 1, row["count_rank"], 0.001)
		}
	})

	t.Run("unpartitioned", func(t *testing.T) {
		var body relationBody
		getJSON(t, srv.URL+"/v1/rankings?group_by=country,city", &body)
		require.Len(t, body.Rows, 4)
		ranks := make([]float64, len(body.Rows))
		for i, row := range body.Rows {
			ranks[i] = row["count_rank"].(float64)
		}
		assert.Equal(t, []float64{1, 2, 2, 4}, ranks)
	})

	t.Run("top_zero", func(t *testing.T) {
		var body relationBody
		getJSON(t, srv.URL+"/v1/rankings?group_by=city&top=0", &body)
		assert.Equal(t, 0, body.RowCount)
	})

	t.Run("bad_top", func(t *testing.T) {
		for _, top := range []string{"abc", "-1"} {
			var body errorBody
			resp := getJSON(t, srv.URL+"/v1/rankings?group_by=city&top="+top, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, top)
		}
	})
}

func TestListRuns(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotPage domain.PageRequest
	runs := &testutil.MockLoadRunRepo{
		ListFn: func(_ context.Context, page domain.PageRequest) ([]domain.LoadRun, int64, error) {
			gotPage = page
			return []domain.LoadRun{
				{ID: "run-2", Source: "ev.csv", Status: domain.LoadRunStatusSuccess, TotalRows: 10, CleanRows: 8, FaultyRows: 2, StartedAt: started},
			}, 3, nil
		},
	}
	srv := setupTestServer(t, runs, middleware.RateLimitConfig{})

	var body struct {
		Runs []struct {
			ID         string `json:"id"`
			Status     string `json:"status"`
			FaultyRows int64  `json:"faulty_rows"`
		} `json:"runs"`
		Total         int64  `json:"total"`
		NextPageToken string `json:"next_page_token"`
	}
	resp := getJSON(t, srv.URL+"/v1/runs?max_results=1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, gotPage.MaxResults)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-2", body.Runs[0].ID)
	assert.Equal(t, int64(2), body.Runs[0].FaultyRows)
	assert.Equal(t, int64(3), body.Total)
	assert.Equal(t, domain.NextPageToken(0, 1, 3), body.NextPageToken)

	t.Run("bad_max_results", func(t *testing.T) {
		resp := getJSON(t, srv.URL+"/v1/runs?max_results=ten", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetRun(t *testing.T) {
	published := "s3://ev-reports/vehicles_by_city.csv"
	runs := &testutil.MockLoadRunRepo{
		GetByIDFn: func(_ context.Context, id string) (*domain.LoadRun, error) {
			if id != "run-1" {
				return nil, domain.ErrNotFound("load run %q not found", id)
			}
			return &domain.LoadRun{ID: "run-1", Status: domain.LoadRunStatusSuccess}, nil
		},
		ListReportsFn: func(context.Context, string) ([]domain.LoadRunReport, error) {
			return []domain.LoadRunReport{{RunID: "run-1", Name: "vehicles_by_city", Rows: 4, Published: &published}}, nil
		},
	}
	srv := setupTestServer(t, runs, middleware.RateLimitConfig{})

	var body struct {
		ID      string `json:"id"`
		Reports []struct {
			Name      string `json:"name"`
			Rows      int64  `json:"rows"`
			Published string `json:"published"`
		} `json:"reports"`
	}
	resp := getJSON(t, srv.URL+"/v1/runs/run-1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-1", body.ID)
	require.Len(t, body.Reports, 1)
	assert.Equal(t, published, body.Reports[0].Published)

	var errBody errorBody
	resp = getJSON(t, srv.URL+"/v1/runs/missing", &errBody)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, errBody.Message, "missing")
}

func TestInternalErrorHidesDetails(t *testing.T) {
	runs := &testutil.MockLoadRunRepo{
		ListFn: func(context.Context, domain.PageRequest) ([]domain.LoadRun, int64, error) {
			return nil, 0, errors.New("sqlite: disk I/O error at /var/lib/ev_runs.sqlite")
		},
	}
	srv := setupTestServer(t, runs, middleware.RateLimitConfig{})

	var body errorBody
	resp := getJSON(t, srv.URL+"/v1/runs", &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal Server Error", body.Message)
}

func TestRateLimitAppliesToV1Only(t *testing.T) {
	srv := setupTestServer(t, &testutil.MockLoadRunRepo{}, middleware.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1})

	resp := getJSON(t, srv.URL+"/v1/counts?group_by=city", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = getJSON(t, srv.URL+"/v1/counts?group_by=city", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPStatusFromDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound("x"), http.StatusNotFound},
		{domain.ErrValidation("x"), http.StatusBadRequest},
		{domain.ErrConflict("x"), http.StatusConflict},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatusFromDomainError(tt.err), tt.err.Error())
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
}
