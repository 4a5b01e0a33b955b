// Package csvstore keeps the catalog and the percentiles as CSV files in one
// directory. Full replaces go through a temporary file and an atomic rename,
// so readers never see a half-written file.
package csvstore

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
)

// File names inside the store directory.
const (
	EntitiesFile    = "pokemon.csv"
	PercentilesFile = "percentiles.csv"
)

var (
	entityHeader     = []string{"poke_id", "name", "height", "weight"}
	percentileHeader = []string{"poke_id", "height_percentile", "weight_percentile"}
)

// Store is a directory-backed store. It is safe for concurrent use.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open creates the directory if needed and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, store.Wrap(store.OpOpen, dir, err)
	}
	return &Store{
		dir:    dir,
		logger: log.With().Str("component", "csvstore").Str("dir", dir).Logger(),
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close is a no-op; files are closed after every operation.
func (s *Store) Close() error {
	return nil
}

// Ping reports whether the store directory is still usable.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return store.Wrap(store.OpOpen, s.dir, err)
	}
	if !info.IsDir() {
		return store.Wrap(store.OpOpen, s.dir, fmt.Errorf("not a directory"))
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// AppendEntity appends one row to pokemon.csv, writing the header first if
// the file is new or empty.
func (s *Store) AppendEntity(ctx context.Context, r entity.Record) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap(store.OpAppend, EntitiesFile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := func() error {
		f, err := os.OpenFile(s.path(EntitiesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		w := csv.NewWriter(f)
		if info.Size() == 0 {
			if err := w.Write(entityHeader); err != nil {
				return err
			}
		}
		if err := w.Write(entityRow(r)); err != nil {
			return err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		return f.Close()
	}()
	return store.Wrap(store.OpAppend, EntitiesFile, err)
}

// ReplaceEntities rewrites pokemon.csv with the collection.
func (s *Store) ReplaceEntities(ctx context.Context, c entity.Collection) error {
	rows := make([][]string, 0, c.Len())
	for _, r := range c.All() {
		rows = append(rows, entityRow(r))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replace(ctx, EntitiesFile, entityHeader, rows); err != nil {
		return store.Wrap(store.OpReplace, EntitiesFile, err)
	}
	s.logger.Debug().Int("records", c.Len()).Msg("Replaced entity file")
	return nil
}

// LoadEntities reads pokemon.csv. Rows are sorted by id; a repeated id is an
// error.
func (s *Store) LoadEntities(ctx context.Context) (entity.Collection, error) {
	s.mu.Lock()
	rows, err := s.readAll(ctx, EntitiesFile, entityHeader)
	s.mu.Unlock()
	if err != nil {
		return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesFile, err)
	}

	records := make([]entity.Record, 0, len(rows))
	for i, row := range rows {
		r, err := parseEntityRow(row)
		if err != nil {
			return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesFile, fmt.Errorf("line %d: %w", i+2, err))
		}
		records = append(records, r)
	}
	slices.SortStableFunc(records, func(a, b entity.Record) int { return cmp.Compare(a.ID, b.ID) })

	c, err := entity.NewCollection(records)
	if err != nil {
		return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesFile, err)
	}
	return c, nil
}

// ReplacePercentiles rewrites percentiles.csv, ordered by id.
func (s *Store) ReplacePercentiles(ctx context.Context, rows []entity.PercentileRow) error {
	sorted := sortedRows(rows)
	records := make([][]string, len(sorted))
	for i, row := range sorted {
		records[i] = percentileRow(row)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.replace(ctx, PercentilesFile, percentileHeader, records); err != nil {
		return store.Wrap(store.OpReplace, PercentilesFile, err)
	}
	s.logger.Debug().Int("rows", len(rows)).Msg("Replaced percentile file")
	return nil
}

// LoadPercentiles reads percentiles.csv.
func (s *Store) LoadPercentiles(ctx context.Context) ([]entity.PercentileRow, error) {
	s.mu.Lock()
	rows, err := s.readAll(ctx, PercentilesFile, percentileHeader)
	s.mu.Unlock()
	if err != nil {
		return nil, store.Wrap(store.OpLoad, PercentilesFile, err)
	}

	out := make([]entity.PercentileRow, 0, len(rows))
	for i, row := range rows {
		r, err := parsePercentileRow(row)
		if err != nil {
			return nil, store.Wrap(store.OpLoad, PercentilesFile, fmt.Errorf("line %d: %w", i+2, err))
		}
		out = append(out, r)
	}
	return out, nil
}

// LookupPercentile scans percentiles.csv for id.
func (s *Store) LookupPercentile(ctx context.Context, id int) (entity.PercentileRow, error) {
	rows, err := s.LoadPercentiles(ctx)
	if err != nil {
		var pe *store.PersistenceError
		if errors.As(err, &pe) {
			pe.Op = store.OpLookup
		}
		return entity.PercentileRow{}, err
	}
	for _, row := range rows {
		if row.ID == id {
			return row, nil
		}
	}
	return entity.PercentileRow{}, fmt.Errorf("id %d: %w", id, store.ErrNotFound)
}

// replace writes header and rows to a temporary file and renames it over name.
func (s *Store) replace(ctx context.Context, name string, header []string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path(name))
}

// readAll returns the data rows of name after checking its header.
// A missing or empty file has no rows.
func (s *Store) readAll(ctx context.Context, name string, header []string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	r.ReuseRecord = false

	got, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !slices.Equal(got, header) {
		return nil, fmt.Errorf("unexpected header %v, want %v", got, header)
	}

	return r.ReadAll()
}

func entityRow(r entity.Record) []string {
	return []string{
		strconv.Itoa(r.ID),
		r.Name,
		formatFloat(r.Height),
		formatFloat(r.Weight),
	}
}

func parseEntityRow(row []string) (entity.Record, error) {
	id, err := strconv.Atoi(row[0])
	if err != nil {
		return entity.Record{}, fmt.Errorf("poke_id: %w", err)
	}
	height, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return entity.Record{}, fmt.Errorf("height: %w", err)
	}
	weight, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return entity.Record{}, fmt.Errorf("weight: %w", err)
	}
	r := entity.Record{ID: id, Name: row[1], Height: height, Weight: weight}
	if err := r.Validate(); err != nil {
		return entity.Record{}, err
	}
	return r, nil
}

func percentileRow(r entity.PercentileRow) []string {
	return []string{
		strconv.Itoa(r.ID),
		formatFloat(r.HeightPercentile),
		formatFloat(r.WeightPercentile),
	}
}

func parsePercentileRow(row []string) (entity.PercentileRow, error) {
	id, err := strconv.Atoi(row[0])
	if err != nil {
		return entity.PercentileRow{}, fmt.Errorf("poke_id: %w", err)
	}
	h, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return entity.PercentileRow{}, fmt.Errorf("height_percentile: %w", err)
	}
	w, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return entity.PercentileRow{}, fmt.Errorf("weight_percentile: %w", err)
	}
	return entity.PercentileRow{ID: id, HeightPercentile: h, WeightPercentile: w}, nil
}

// formatFloat writes the shortest representation that parses back exactly.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedRows(rows []entity.PercentileRow) []entity.PercentileRow {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, func(a, b entity.PercentileRow) int { return cmp.Compare(a.ID, b.ID) })
	return sorted
}
