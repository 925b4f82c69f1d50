// Package analytics runs group-count-rank queries over a loaded table. Each
// step returns a new relation that keeps its defining SQL, so steps compose
// by nesting queries rather than by copying data.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ev-pipeline/internal/ddl"
	"ev-pipeline/internal/domain"
)

// Output column names.
const (
	CountColumn = "count"
	RankColumn  = "count_rank"
)

// Engine queries one source table.
type Engine struct {
	querier domain.RelationQuerier
	source  string
	table   string // quoted
	logger  *slog.Logger
}

// New binds an engine to a source table.
func New(querier domain.RelationQuerier, source string, logger *slog.Logger) (*Engine, error) {
	table, err := ddl.QualifiedName(source)
	if err != nil {
		return nil, domain.ErrValidation("analytics source: %v", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{querier: querier, source: source, table: table, logger: logger}, nil
}

// GroupAndCount groups the source table by columns and counts each group
// into a "count" column.
func (e *Engine) GroupAndCount(ctx context.Context, columns []string) (*domain.Relation, error) {
	if len(columns) == 0 {
		return nil, domain.ErrValidation("at least one grouping column must be specified")
	}
	if err := ddl.ValidateColumns(columns); err != nil {
		return nil, domain.ErrValidation("group by: %v", err)
	}
	cols := ddl.QuoteIdentifiers(columns)
	q := fmt.Sprintf("SELECT %s, count(*) AS %s FROM %s GROUP BY %s",
		cols, ddl.QuoteIdentifier(CountColumn), e.table, cols)
	return e.run(ctx, "group_and_count", q)
}

// RankByCount adds a "count_rank" column ranking rows by descending count,
// restarting in every partition. Ties share a rank and the following rank
// is skipped. An empty partition ranks over the whole relation.
func (e *Engine) RankByCount(ctx context.Context, counts *domain.Relation, partition []string) (*domain.Relation, error) {
	if counts == nil {
		return nil, domain.ErrValidation("rank by count: relation is required")
	}
	if !counts.HasColumn(CountColumn) {
		return nil, domain.ErrValidation("rank by count: relation has no %q column", CountColumn)
	}
	var over strings.Builder
	if len(partition) > 0 {
		if err := ddl.ValidateColumns(partition); err != nil {
			return nil, domain.ErrValidation("partition by: %v", err)
		}
		over.WriteString("PARTITION BY ")
		over.WriteString(ddl.QuoteIdentifiers(partition))
		over.WriteString(" ")
	}
	over.WriteString("ORDER BY ")
	over.WriteString(ddl.QuoteIdentifier(CountColumn))
	over.WriteString(" DESC")

	q := fmt.Sprintf("SELECT *, RANK() OVER (%s) AS %s FROM (%s) AS counts",
		over.String(), ddl.QuoteIdentifier(RankColumn), counts.Query())
	return e.run(ctx, "rank_by_count", q)
}

// TopN keeps rows whose rank is at most n. With ties more than n rows per
// partition may be returned.
func (e *Engine) TopN(ctx context.Context, ranked *domain.Relation, n int) (*domain.Relation, error) {
	if ranked == nil {
		return nil, domain.ErrValidation("top n: relation is required")
	}
	if n < 0 {
		return nil, domain.ErrValidation("top n: n must not be negative, got %d", n)
	}
	if !ranked.HasColumn(RankColumn) {
		return nil, domain.ErrValidation("top n: relation has no %q column", RankColumn)
	}
	q := fmt.Sprintf("SELECT * FROM (%s) AS ranked WHERE %s <= %d",
		ranked.Query(), ddl.QuoteIdentifier(RankColumn), n)
	return e.run(ctx, "top_n", q)
}

// OrderBy sorts a relation ascending by columns. A column prefixed with "-"
// sorts descending.
func (e *Engine) OrderBy(ctx context.Context, rel *domain.Relation, columns []string) (*domain.Relation, error) {
	if rel == nil {
		return nil, domain.ErrValidation("order by: relation is required")
	}
	if len(columns) == 0 {
		return rel, nil
	}
	keys := make([]string, len(columns))
	for i, c := range columns {
		dir := "ASC"
		if name, ok := strings.CutPrefix(c, "-"); ok {
			c, dir = name, "DESC"
		}
		if err := ddl.ValidateIdentifier(c); err != nil {
			return nil, domain.ErrValidation("order by column %q: %v", c, err)
		}
		if !rel.HasColumn(c) {
			return nil, domain.ErrValidation("order by: relation has no %q column", c)
		}
		keys[i] = ddl.QuoteIdentifier(c) + " " + dir
	}
	q := fmt.Sprintf("SELECT * FROM (%s) AS unordered ORDER BY %s", rel.Query(), strings.Join(keys, ", "))
	return e.run(ctx, "order_by", q)
}

func (e *Engine) run(ctx context.Context, op, q string) (*domain.Relation, error) {
	rel, err := e.querier.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", op, e.source, err)
	}
	e.logger.Debug("analytics step", "op", op, "table", e.source, "rows", rel.Len())
	return rel, nil
}
