// Package api serves the read-only HTTP API over the clean table analytics
// and the run ledger.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ev-pipeline/internal/domain"
)

// Analytics is the relational engine the API queries.
// Implemented by analytics.Engine.
type Analytics interface {
	GroupAndCount(ctx context.Context, columns []string) (*domain.Relation, error)
	RankByCount(ctx context.Context, counts *domain.Relation, partition []string) (*domain.Relation, error)
	TopN(ctx context.Context, ranked *domain.Relation, n int) (*domain.Relation, error)
	OrderBy(ctx context.Context, rel *domain.Relation, columns []string) (*domain.Relation, error)
}

// Handler implements the API endpoints.
type Handler struct {
	analytics Analytics
	runs      domain.LoadRunRepository
	logger    *slog.Logger
}

// NewHandler creates a Handler. A nil logger discards output.
func NewHandler(analytics Analytics, runs domain.LoadRunRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{analytics: analytics, runs: runs, logger: logger}
}

type relationResponse struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

type reportResponse struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Rows      int64     `json:"rows"`
	Published *string   `json:"published,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type runResponse struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	CleanTable   string           `json:"clean_table"`
	FaultyTable  string           `json:"faulty_table"`
	Status       string           `json:"status"`
	TotalRows    int64            `json:"total_rows"`
	CleanRows    int64            `json:"clean_rows"`
	FaultyRows   int64            `json:"faulty_rows"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Reports      []reportResponse `json:"reports,omitempty"`
}

type runListResponse struct {
	Runs          []runResponse `json:"runs"`
	Total         int64         `json:"total"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Counts handles GET /v1/counts?group_by=a,b[&order_by=c,-count].
// Without order_by, rows are sorted by the grouping columns.
func (h *Handler) Counts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupBy := splitList(q.Get("group_by"))

	rel, err := h.analytics.GroupAndCount(r.Context(), groupBy)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	order := splitList(q.Get("order_by"))
	if len(order) == 0 {
		order = groupBy
	}
	if rel, err = h.analytics.OrderBy(r.Context(), rel, order); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelationResponse(rel))
}

// Rankings handles GET /v1/rankings?group_by=..[&partition_by=..][&top=n][&order_by=..].
// Without order_by, rows are sorted by partition then rank.
func (h *Handler) Rankings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	groupBy := splitList(q.Get("group_by"))
	partition := splitList(q.Get("partition_by"))

	top := 0
	if s := q.Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, h.logger, domain.ErrValidation("top must be an integer, got %q", s))
			return
		}
		top = n
	}

	ctx := r.Context()
	rel, err := h.analytics.GroupAndCount(ctx, groupBy)
	if err == nil {
		rel, err = h.analytics.RankByCount(ctx, rel, partition)
	}
	if err == nil && q.Has("top") {
		rel, err = h.analytics.TopN(ctx, rel, top)
	}
	if err == nil {
		order := splitList(q.Get("order_by"))
		if len(order) == 0 {
			order = append(append([]string{}, partition...), "count_rank")
		}
		rel, err = h.analytics.OrderBy(ctx, rel, order)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelationResponse(rel))
}

// ListRuns handles GET /v1/runs[?max_results=n&page_token=t].
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := domain.PageRequest{PageToken: q.Get("page_token")}
	if s := q.Get("max_results"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, h.logger, domain.ErrValidation("max_results must be an integer, got %q", s))
			return
		}
		page.MaxResults = n
	}

	runs, total, err := h.runs.List(r.Context(), page)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := runListResponse{
		Runs:          make([]runResponse, len(runs)),
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	}
	for i, run := range runs {
		resp.Runs[i] = runToAPI(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun handles GET /v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	reports, err := h.runs.ListReports(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := runToAPI(*run)
	for _, rep := range reports {
		resp.Reports = append(resp.Reports, reportResponse{
			Name:      rep.Name,
			Path:      rep.Path,
			Rows:      rep.Rows,
			Published: rep.Published,
			CreatedAt: rep.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func runToAPI(run domain.LoadRun) runResponse {
	return runResponse{
		ID:           run.ID,
		Source:       run.Source,
		CleanTable:   run.CleanTable,
		FaultyTable:  run.FaultyTable,
		Status:       run.Status,
		TotalRows:    run.TotalRows,
		CleanRows:    run.CleanRows,
		FaultyRows:   run.FaultyRows,
		ErrorMessage: run.ErrorMessage,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

func toRelationResponse(rel *domain.Relation) relationResponse {
	return relationResponse{
		Columns:  rel.Columns(),
		Rows:     rel.Records(),
		RowCount: rel.Len(),
	}
}

// splitList parses a comma-separated query value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
