package loader_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-pipeline/internal/domain"
	"ev-pipeline/internal/loader"
	"ev-pipeline/internal/processor"
	"ev-pipeline/internal/store"
	"ev-pipeline/internal/testutil"
)

var (
	cleanDst = loader.Destination{
		Name: "clean",
		Schema: domain.Schema{
			{Name: "city", Type: domain.TypeVarchar},
			{Name: "visitors", Type: domain.TypeBigInt},
		},
	}
	faultyDst = loader.Destination{
		Name:   "faulty",
		Schema: cleanDst.Schema.Quarantine(domain.DefaultErrorField),
	}
)

func museumBatch() domain.Batch {
	return domain.NewBatch([]string{"city", "visitors"}, []domain.Row{
		domain.NewRow(map[string]any{"city": "London", "visitors": "3"}),
		domain.NewRow(map[string]any{"city": "Paris", "visitors": "many"}),
		domain.NewRow(map[string]any{"city": "Edinburgh", "visitors": nil}),
	})
}

func TestLoad_UntrackedGoesToClean(t *testing.T) {
	ms := &testutil.MockStore{}
	l := loader.New(ms)

	b := domain.NewBatch([]string{"city", "visitors"}, []domain.Row{
		domain.NewRow(map[string]any{"city": "London", "visitors": 3}),
		domain.NewRow(map[string]any{"city": "Paris", "visitors": int64(2)}),
	})
	res, err := l.Load(context.Background(), b, cleanDst, faultyDst)
	require.NoError(t, err)

	assert.Equal(t, loader.Result{Clean: 2, Faulty: 0}, res)
	require.Len(t, ms.CommitsTo("clean"), 1)
	assert.Empty(t, ms.CommitsTo("faulty"), "an untracked batch never touches the faulty destination")
	assert.Equal(t, [][]any{{"London", int64(3)}, {"Paris", int64(2)}}, ms.CommitsTo("clean")[0].Rows)
}

func TestLoad_TrackedSplitsByErrors(t *testing.T) {
	ms := &testutil.MockStore{}
	l := loader.New(ms)

	b := processor.NewPipeline(nil, processor.IntChecker{Column: "visitors"}).Run(museumBatch())
	res, err := l.Load(context.Background(), b, cleanDst, faultyDst)
	require.NoError(t, err)

	assert.Equal(t, loader.Result{Clean: 2, Faulty: 1}, res)
	assert.Equal(t, b.Len(), res.Total())

	clean := ms.CommitsTo("clean")
	require.Len(t, clean, 1)
	assert.Equal(t, []string{"city", "visitors"}, clean[0].Columns)
	assert.Equal(t, [][]any{{"London", int64(3)}, {"Edinburgh", nil}}, clean[0].Rows)

	faulty := ms.CommitsTo("faulty")
	require.Len(t, faulty, 1)
	assert.Equal(t, []string{"city", "visitors", "errors"}, faulty[0].Columns)
	require.Len(t, faulty[0].Rows, 1)
	assert.Equal(t, "Paris", faulty[0].Rows[0][0])
	assert.Equal(t, "many", faulty[0].Rows[0][1])
	assert.Equal(t, `visitors: strconv.ParseInt: parsing "many": invalid syntax`, faulty[0].Rows[0][2])
}

func TestLoad_TrackedWithoutFailures(t *testing.T) {
	ms := &testutil.MockStore{}
	l := loader.New(ms)

	b := domain.NewBatch([]string{"city", "visitors"}, []domain.Row{
		domain.NewRow(map[string]any{"city": "London", "visitors": "3"}),
	})
	b.Tracked = true

	res, err := l.Load(context.Background(), b, cleanDst, faultyDst)
	require.NoError(t, err)
	assert.Equal(t, loader.Result{Clean: 1}, res)

	faulty := ms.CommitsTo("faulty")
	require.Len(t, faulty, 1)
	assert.Empty(t, faulty[0].Rows)
}

func TestLoad_CustomErrorField(t *testing.T) {
	ms := &testutil.MockStore{}
	l := loader.New(ms, loader.WithErrorField("problems"), loader.WithSeparator(" | "))
	assert.Equal(t, "problems", l.ErrorField())

	faulty := loader.Destination{
		Name:   "faulty",
		Schema: domain.Schema{{Name: "city", Type: domain.TypeVarchar}}.Quarantine("problems"),
	}
	row := domain.NewRow(map[string]any{"city": "Paris"}).
		AppendError(domain.ErrorKindExternal, "a").
		AppendError(domain.ErrorKindExternal, "b")
	b := domain.NewBatch([]string{"city"}, []domain.Row{row})
	b.Tracked = true

	clean := loader.Destination{Name: "clean", Schema: domain.Schema{{Name: "city", Type: domain.TypeVarchar}}}
	_, err := l.Load(context.Background(), b, clean, faulty)
	require.NoError(t, err)
	assert.Equal(t, "a | b", ms.CommitsTo("faulty")[0].Rows[0][1])
}

func TestLoad_ConformanceErrors(t *testing.T) {
	tracked := museumBatch()
	tracked.Tracked = true

	tests := []struct {
		name   string
		batch  domain.Batch
		clean  loader.Destination
		faulty loader.Destination
	}{
		{
			name:   "clean_column_missing",
			batch:  museumBatch(),
			clean:  loader.Destination{Name: "clean", Schema: domain.Schema{{Name: "country", Type: domain.TypeVarchar}}},
			faulty: faultyDst,
		},
		{
			name:   "clean_has_error_field",
			batch:  museumBatch(),
			clean:  loader.Destination{Name: "clean", Schema: domain.Schema{{Name: "errors", Type: domain.TypeVarchar}}},
			faulty: faultyDst,
		},
		{
			name:   "faulty_column_missing",
			batch:  tracked,
			clean:  cleanDst,
			faulty: loader.Destination{Name: "faulty", Schema: domain.Schema{{Name: "country", Type: domain.TypeVarchar}}},
		},
		{
			name:   "missing_name",
			batch:  museumBatch(),
			clean:  loader.Destination{Schema: cleanDst.Schema},
			faulty: faultyDst,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := &testutil.MockStore{}
			_, err := loader.New(ms).Load(context.Background(), tt.batch, tt.clean, tt.faulty)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Empty(t, ms.Commits, "nothing may be written when the destinations do not conform")
		})
	}
}

func TestLoad_CoercionFailureIsFatal(t *testing.T) {
	ms := &testutil.MockStore{}
	// Untracked: "many" reaches a BIGINT column unchecked.
	_, err := loader.New(ms).Load(context.Background(), museumBatch(), cleanDst, faultyDst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "visitors"`)
	assert.Empty(t, ms.Commits)
}

func TestLoad_CommitFailure(t *testing.T) {
	boom := errors.New("disk full")
	ms := &testutil.MockStore{
		CommitFn: func(_ context.Context, destination string, _ []string, _ [][]any) error {
			if destination == "faulty" {
				return boom
			}
			return nil
		},
	}
	b := processor.NewPipeline(nil, processor.IntChecker{Column: "visitors"}).Run(museumBatch())

	_, err := loader.New(ms).Load(context.Background(), b, cleanDst, faultyDst)
	require.ErrorIs(t, err, boom)
}

func TestLoad_DuckDB(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, "", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	l := loader.New(s, loader.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, l.Prepare(ctx, cleanDst, faultyDst, true))

	b := processor.NewPipeline(nil, processor.IntChecker{Column: "visitors"}).Run(museumBatch())
	res, err := l.Load(ctx, b, cleanDst, faultyDst)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total())

	rel, err := s.Query(ctx, `SELECT (SELECT count(*) FROM clean) AS c, (SELECT count(*) FROM faulty) AS f`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(1)}, rel.Row(0))

	rel, err = s.Query(ctx, `SELECT errors FROM faulty`)
	require.NoError(t, err)
	assert.Equal(t, `visitors: strconv.ParseInt: parsing "many": invalid syntax`, rel.Row(0)[0])
}

func TestLoad_DuckDB_OutOfRangeGoesToFaulty(t *testing.T) {
	tests := []struct {
		name     string
		typ      domain.ColumnType
		fits     any
		overflow any
		wantErr  string
	}{
		{name: "smallint", typ: domain.TypeSmallInt, fits: "2020", overflow: "70000", wantErr: "model_year: 70000 out of range for SMALLINT"},
		{name: "tinyint", typ: domain.TypeTinyInt, fits: int64(-128), overflow: 200, wantErr: "model_year: 200 out of range for TINYINT"},
		{name: "utinyint", typ: domain.TypeUTinyInt, fits: uint8(255), overflow: "-1", wantErr: "model_year: -1 out of range for UTINYINT"},
		{name: "float", typ: domain.TypeFloat, fits: "2.5", overflow: "1e39", wantErr: "model_year: 1e+39 out of range for FLOAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, err := store.Open(ctx, "", slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			clean := loader.Destination{Name: "vehicles", Schema: domain.Schema{
				{Name: "vin", Type: domain.TypeVarchar},
				{Name: "model_year", Type: tt.typ},
			}}
			faulty := loader.Destination{Name: "vehicle_errors", Schema: clean.Schema.Quarantine(domain.DefaultErrorField)}

			l := loader.New(s)
			require.NoError(t, l.Prepare(ctx, clean, faulty, true))

			procs, err := processor.ForSchema(clean.Schema, nil)
			require.NoError(t, err)
			b := processor.NewPipeline(nil, procs...).Run(domain.NewBatch([]string{"vin", "model_year"}, []domain.Row{
				domain.NewRow(map[string]any{"vin": "A", "model_year": tt.fits}),
				domain.NewRow(map[string]any{"vin": "B", "model_year": tt.overflow}),
			}))

			res, err := l.Load(ctx, b, clean, faulty)
			require.NoError(t, err)
			assert.Equal(t, loader.Result{Clean: 1, Faulty: 1}, res)

			rel, err := s.Query(ctx, `SELECT vin, errors FROM vehicle_errors`)
			require.NoError(t, err)
			require.Equal(t, 1, rel.Len())
			assert.Equal(t, []any{"B", tt.wantErr}, rel.Row(0))

			rel, err = s.Query(ctx, `SELECT vin FROM vehicles`)
			require.NoError(t, err)
			require.Equal(t, 1, rel.Len())
			assert.Equal(t, "A", rel.Row(0)[0])
		})
	}
}
