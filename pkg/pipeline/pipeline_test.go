package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/pokeapi-percentiles/internal/storetest"
	"github.com/Sternrassler/pokeapi-percentiles/internal/testutil"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/analysis"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/client"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/retrieval"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store/csvstore"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store/parquet"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store/sqlite"
)

type fakeRetriever struct {
	collection entity.Collection
	summary    retrieval.Summary
	err        error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, first, last int) (entity.Collection, retrieval.Summary, error) {
	return f.collection, f.summary, f.err
}

type brokenPercentiles struct{}

func (brokenPercentiles) ReplacePercentiles(context.Context, []entity.PercentileRow) error {
	return store.Wrap(store.OpReplace, "broken", fs.ErrPermission)
}

func (brokenPercentiles) LookupPercentile(context.Context, int) (entity.PercentileRow, error) {
	return entity.PercentileRow{}, store.ErrNotFound
}

func (brokenPercentiles) LoadPercentiles(context.Context) ([]entity.PercentileRow, error) {
	return nil, nil
}

// brokenEntities fails every raw catalog write.
type brokenEntities struct {
	store.EntityStore
}

func (brokenEntities) AppendEntity(context.Context, entity.Record) error {
	return store.Wrap(store.OpAppend, "broken", fs.ErrPermission)
}

func (brokenEntities) ReplaceEntities(context.Context, entity.Collection) error {
	return store.Wrap(store.OpReplace, "broken", fs.ErrPermission)
}

func openCSV(t *testing.T) *csvstore.Store {
	t.Helper()
	s, err := csvstore.Open(t.TempDir())
	require.NoError(t, err)
	return s
}

// liveRetriever wires a real client and retriever against the mock API.
func liveRetriever(t *testing.T, mock *testutil.MockPokeAPI) *retrieval.Retriever {
	t.Helper()
	cfg := client.DefaultConfig("pokestats-test/1.0")
	cfg.BaseURL = mock.BaseURL()
	cfg.RequestsPerSecond = 0
	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	rc := retrieval.DefaultConfig()
	rc.MaxConcurrency = 4
	rc.Retry.InitialBackoff = 0
	return retrieval.New(c, rc)
}

func TestRun_EndToEnd(t *testing.T) {
	mock := testutil.NewMockPokeAPI(30)
	defer mock.Close()
	mock.SetResponse(9, testutil.NewNotFoundResponse())

	s := openCSV(t)
	p := New(liveRetriever(t, mock), s, s, Config{MaxID: 30})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 29, report.EntitiesSaved)
	assert.Equal(t, 29, report.PercentilesSaved)
	assert.Equal(t, []int{9}, report.Retrieval.FailedIDs())
	require.NotNil(t, report.Stats)
	assert.Equal(t, 29, report.Stats.Height.Count)

	_, err = s.LookupPercentile(context.Background(), 9)
	assert.ErrorIs(t, err, store.ErrNotFound, "failed ids get no row")

	stored, err := s.LoadEntities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 29, stored.Len())

	rows, err := s.LoadPercentiles(context.Background())
	require.NoError(t, err)
	for _, r := range rows {
		assert.GreaterOrEqual(t, r.HeightPercentile, 0.0)
		assert.LessOrEqual(t, r.HeightPercentile, 100.0)
	}
}

func TestRun_FullReplaceAcrossRuns(t *testing.T) {
	mock := testutil.NewMockPokeAPI(12)
	defer mock.Close()

	dir := t.TempDir()
	s, err := sqlite.Open(filepath.Join(dir, "run.db"))
	require.NoError(t, err)
	defer s.Close()

	r := liveRetriever(t, mock)
	ctx := context.Background()

	_, err = New(r, s, s, Config{MaxID: 12}).Run(ctx)
	require.NoError(t, err)
	first, err := s.LoadPercentiles(ctx)
	require.NoError(t, err)
	require.Len(t, first, 12)

	_, err = New(r, s, s, Config{MaxID: 5}).Run(ctx)
	require.NoError(t, err)

	second, err := s.LoadPercentiles(ctx)
	require.NoError(t, err)
	require.Len(t, second, 5, "second run replaces, never merges")
	for i, row := range second {
		assert.Equal(t, i+1, row.ID)
	}

	_, err = s.LookupPercentile(ctx, 12)
	assert.ErrorIs(t, err, store.ErrNotFound)

	catalog, err := s.LoadEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, catalog.IDs())
}

func TestRun_KnownPercentiles(t *testing.T) {
	s := openCSV(t)
	p := New(&fakeRetriever{collection: storetest.Collection(t)}, s, s, Config{MaxID: 4})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	rows, err := s.LoadPercentiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storetest.Rows(), rows)
}

func TestRun_WithSnapshot(t *testing.T) {
	s := openCSV(t)
	snap, err := parquet.NewSnapshot(filepath.Join(t.TempDir(), "percentiles.parquet"))
	require.NoError(t, err)

	p := New(&fakeRetriever{collection: storetest.Collection(t)}, s, s, Config{}, WithSnapshot(snap))
	_, err = p.Run(context.Background())
	require.NoError(t, err)

	primary, err := s.LoadPercentiles(context.Background())
	require.NoError(t, err)
	snapshot, err := snap.LoadPercentiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, primary, snapshot)
}

func TestRun_Cancelled(t *testing.T) {
	partial := storetest.Collection(t)
	s := openCSV(t)
	ctx := context.Background()
	require.NoError(t, s.ReplacePercentiles(ctx, []entity.PercentileRow{{ID: 100, HeightPercentile: 50, WeightPercentile: 50}}))

	cancelErr := fmt.Errorf("%w after 4/10 ids: %w", retrieval.ErrCancelled, context.Canceled)
	p := New(&fakeRetriever{collection: partial, err: cancelErr}, s, s, Config{MaxID: 10})

	report, err := p.Run(ctx)
	require.ErrorIs(t, err, retrieval.ErrCancelled)
	assert.Zero(t, report.PercentilesSaved)

	rows, err := s.LoadPercentiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []entity.PercentileRow{{ID: 100, HeightPercentile: 50, WeightPercentile: 50}}, rows,
		"previous percentiles survive a cancelled run")
}

func TestRun_EmptyPopulation(t *testing.T) {
	empty, err := entity.NewCollection(nil)
	require.NoError(t, err)
	s := openCSV(t)

	summary := retrieval.Summary{Requested: 2, Failures: []retrieval.Failure{
		{ID: 1, Class: client.ErrorClassNotFound, Attempts: 1},
		{ID: 2, Class: client.ErrorClassNotFound, Attempts: 1},
	}}
	p := New(&fakeRetriever{collection: empty, summary: summary}, s, s, Config{MaxID: 2})

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, analysis.ErrEmptyPopulation)
}

func TestRun_PersistenceFailure(t *testing.T) {
	s := openCSV(t)
	p := New(&fakeRetriever{collection: storetest.Collection(t)}, s, brokenPercentiles{}, Config{})

	_, err := p.Run(context.Background())
	require.Error(t, err)

	var pe *store.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, store.OpReplace, pe.Op)
}

func TestFetchAndSave_Replace(t *testing.T) {
	s := openCSV(t)
	p := New(&fakeRetriever{collection: storetest.Collection(t)}, s, s, Config{})

	c, report, err := p.FetchAndSave(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 4, report.EntitiesSaved)
	assert.Zero(t, report.PercentilesSaved)

	stored, err := s.LoadEntities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storetest.Records(), stored.Records())
}

func TestFetchAndSave_Incremental(t *testing.T) {
	s := openCSV(t)
	ctx := context.Background()
	all := storetest.Records()

	firstHalf, err := entity.NewCollection(all[:2])
	require.NoError(t, err)
	secondHalf, err := entity.NewCollection(all[2:])
	require.NoError(t, err)

	_, _, err = New(&fakeRetriever{collection: firstHalf}, s, s, Config{Incremental: true}).FetchAndSave(ctx)
	require.NoError(t, err)

	// A cancelled incremental run still keeps what it fetched.
	cancelErr := fmt.Errorf("%w: %w", retrieval.ErrCancelled, context.DeadlineExceeded)
	_, report, err := New(&fakeRetriever{collection: secondHalf, err: cancelErr}, s, s, Config{Incremental: true}).FetchAndSave(ctx)
	require.ErrorIs(t, err, retrieval.ErrCancelled)
	assert.Equal(t, 2, report.EntitiesSaved)

	stored, err := s.LoadEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, all, stored.Records())
}

func TestFetchAndSave_CancelledReplaceKeepsCatalog(t *testing.T) {
	s := openCSV(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceEntities(ctx, storetest.Collection(t)))

	partial, err := entity.NewCollection(storetest.Records()[:1])
	require.NoError(t, err)
	cancelErr := fmt.Errorf("%w: %w", retrieval.ErrCancelled, context.Canceled)

	_, report, err := New(&fakeRetriever{collection: partial, err: cancelErr}, s, s, Config{}).FetchAndSave(ctx)
	require.ErrorIs(t, err, retrieval.ErrCancelled)
	assert.Zero(t, report.EntitiesSaved)

	stored, err := s.LoadEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Len())
}

func TestAnalyzeStored(t *testing.T) {
	s := openCSV(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceEntities(ctx, storetest.Collection(t)))

	report, err := New(nil, s, s, Config{}).AnalyzeStored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.PercentilesSaved)
	assert.Equal(t, 1, report.Retrieval.First)
	assert.Equal(t, 4, report.Retrieval.Last)

	row, err := s.LookupPercentile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, storetest.Rows()[2], row)
}

func TestAnalyzeStored_EmptyStore(t *testing.T) {
	s := openCSV(t)
	_, err := New(nil, s, s, Config{}).AnalyzeStored(context.Background())
	assert.ErrorIs(t, err, analysis.ErrEmptyPopulation)
}

func TestReport_WriteText(t *testing.T) {
	s := openCSV(t)
	summary := retrieval.Summary{Requested: 5, Fetched: 4, Failures: []retrieval.Failure{
		{ID: 5, Class: client.ErrorClassNotFound, Attempts: 1},
	}}
	p := New(&fakeRetriever{collection: storetest.Collection(t), summary: summary}, s, s, Config{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, report.RunID)
	assert.Contains(t, out, "4/5")
	assert.Contains(t, out, "not_found=1")
	assert.Contains(t, out, "percentiles saved")
	assert.Contains(t, out, "height")
}

func TestRun_IncrementalTwice(t *testing.T) {
	backends := []struct {
		name string
		open func(t *testing.T) store.Store
	}{
		{"csv", func(t *testing.T) store.Store { return openCSV(t) }},
		{"sqlite", func(t *testing.T) store.Store {
			s, err := sqlite.Open(filepath.Join(t.TempDir(), "inc.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			all := storetest.Records()

			firstRun, err := entity.NewCollection(all[:3])
			require.NoError(t, err)
			first, err := New(&fakeRetriever{collection: firstRun}, s, s, Config{Incremental: true}).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, first.EntitiesSaved)

			second, err := New(&fakeRetriever{collection: storetest.Collection(t)}, s, s, Config{Incremental: true}).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, second.EntitiesSaved, "only the new id is appended")
			assert.Equal(t, 4, second.PercentilesSaved)

			stored, err := s.LoadEntities(ctx)
			require.NoError(t, err)
			assert.Equal(t, all, stored.Records())

			report, err := New(nil, s, s, Config{}).AnalyzeStored(ctx)
			require.NoError(t, err)
			assert.Equal(t, 4, report.PercentilesSaved)

			rows, err := s.LoadPercentiles(ctx)
			require.NoError(t, err)
			assert.Equal(t, storetest.Rows(), rows)
		})
	}
}

func TestRun_RawWriteFailureKeepsPercentiles(t *testing.T) {
	s := openCSV(t)
	ctx := context.Background()
	previous := []entity.PercentileRow{{ID: 100, HeightPercentile: 50, WeightPercentile: 50}}
	require.NoError(t, s.ReplacePercentiles(ctx, previous))

	for _, incremental := range []bool{false, true} {
		raw := brokenEntities{EntityStore: s}
		p := New(&fakeRetriever{collection: storetest.Collection(t)}, raw, s, Config{Incremental: incremental})

		_, err := p.Run(ctx)
		var pe *store.PersistenceError
		require.True(t, errors.As(err, &pe), "incremental=%v: %v", incremental, err)

		rows, err := s.LoadPercentiles(ctx)
		require.NoError(t, err)
		assert.Equal(t, previous, rows, "incremental=%v", incremental)
	}
}

func TestFetchAndSave_NothingFetched(t *testing.T) {
	empty, err := entity.NewCollection(nil)
	require.NoError(t, err)
	s := openCSV(t)
	ctx := context.Background()
	require.NoError(t, s.ReplaceEntities(ctx, storetest.Collection(t)))

	summary := retrieval.Summary{Requested: 1, Failures: []retrieval.Failure{
		{ID: 1, Class: client.ErrorClassServer, Attempts: 3},
	}}
	for _, incremental := range []bool{false, true} {
		p := New(&fakeRetriever{collection: empty, summary: summary}, s, s, Config{Incremental: incremental})
		_, report, err := p.FetchAndSave(ctx)
		assert.ErrorIs(t, err, analysis.ErrEmptyPopulation, "incremental=%v", incremental)
		assert.Zero(t, report.EntitiesSaved)
	}

	stored, err := s.LoadEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Len())
}
