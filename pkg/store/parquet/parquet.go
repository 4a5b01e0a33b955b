// Package parquet writes percentile snapshots as zstd-compressed Parquet
// files for analytical tools. A snapshot implements store.PercentileStore;
// lookups scan the file.
package parquet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
)

// PercentileRow is a percentile row in Parquet format.
type PercentileRow struct {
	PokeID           int64   `parquet:"poke_id"`
	HeightPercentile float64 `parquet:"height_percentile"`
	WeightPercentile float64 `parquet:"weight_percentile"`
}

// RowFromEntity converts an entity.PercentileRow to a PercentileRow.
func RowFromEntity(r entity.PercentileRow) PercentileRow {
	return PercentileRow{
		PokeID:           int64(r.ID),
		HeightPercentile: r.HeightPercentile,
		WeightPercentile: r.WeightPercentile,
	}
}

// ToEntity converts a PercentileRow back to an entity.PercentileRow.
func (r PercentileRow) ToEntity() entity.PercentileRow {
	return entity.PercentileRow{
		ID:               int(r.PokeID),
		HeightPercentile: r.HeightPercentile,
		WeightPercentile: r.WeightPercentile,
	}
}

// Snapshot is a single Parquet file holding the latest percentiles.
type Snapshot struct {
	mu   sync.RWMutex
	path string
}

var _ store.PercentileStore = (*Snapshot)(nil)

// NewSnapshot returns a snapshot at path, creating its directory.
func NewSnapshot(path string) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, store.Wrap(store.OpOpen, path, fmt.Errorf("create directory: %w", err))
	}
	return &Snapshot{path: path}, nil
}

// Path returns the file path.
func (s *Snapshot) Path() string {
	return s.path
}

// ReplacePercentiles writes rows to a temporary file and renames it over the
// snapshot.
func (s *Snapshot) ReplacePercentiles(ctx context.Context, rows []entity.PercentileRow) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap(store.OpReplace, s.path, err)
	}

	out := make([]PercentileRow, len(rows))
	for i, r := range rows {
		out[i] = RowFromEntity(r)
	}
	slices.SortFunc(out, func(a, b PercentileRow) int { return cmp.Compare(a.PokeID, b.PokeID) })

	s.mu.Lock()
	defer s.mu.Unlock()
	return store.Wrap(store.OpReplace, s.path, s.write(out))
}

func (s *Snapshot) write(rows []PercentileRow) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	writer := parquet.NewGenericWriter[PercentileRow](tmp, parquet.Compression(&parquet.Zstd))
	if _, err := writer.Write(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// LoadPercentiles reads every row. A missing snapshot has no rows.
func (s *Snapshot) LoadPercentiles(ctx context.Context) ([]entity.PercentileRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap(store.OpLoad, s.path, err)
	}

	s.mu.RLock()
	rows, err := s.read()
	s.mu.RUnlock()
	if err != nil {
		return nil, store.Wrap(store.OpLoad, s.path, err)
	}

	out := make([]entity.PercentileRow, len(rows))
	for i, r := range rows {
		out[i] = r.ToEntity()
	}
	return out, nil
}

func (s *Snapshot) read() ([]PercentileRow, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	file, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[PercentileRow](file)
	defer reader.Close()

	rows := make([]PercentileRow, reader.NumRows())
	n, err := reader.Read(rows)
	// Read reports io.EOF together with the final rows.
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// LookupPercentile scans the snapshot for id.
func (s *Snapshot) LookupPercentile(ctx context.Context, id int) (entity.PercentileRow, error) {
	rows, err := s.LoadPercentiles(ctx)
	if err != nil {
		var pe *store.PersistenceError
		if errors.As(err, &pe) {
			pe.Op = store.OpLookup
		}
		return entity.PercentileRow{}, err
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return entity.PercentileRow{}, fmt.Errorf("id %d: %w", id, store.ErrNotFound)
}
