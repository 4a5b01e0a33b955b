// Package sqlite stores the catalog and the percentiles in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - pokemon and percentiles tables
const currentSchemaVersion = 1

// Table names, also used as PersistenceError targets.
const (
	EntitiesTable    = "pokemon"
	PercentilesTable = "percentiles"
)

// Store is a SQLite-backed store.
// Uses WAL mode so lookups can read while a run writes.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, store.Wrap(store.OpOpen, path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, store.Wrap(store.OpOpen, path, err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, store.Wrap(store.OpOpen, path, err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, store.Wrap(store.OpOpen, path, err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: log.With().Str("component", "sqlite-store").Str("path", path).Logger(),
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return store.Wrap(store.OpClose, s.path, s.db.Close())
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// AppendEntity inserts one record. An id that is already stored is an error.
func (s *Store) AppendEntity(ctx context.Context, r entity.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pokemon (poke_id, name, height, weight) VALUES (?, ?, ?, ?)`,
		r.ID, r.Name, r.Height, r.Weight)
	return store.Wrap(store.OpAppend, EntitiesTable, err)
}

// ReplaceEntities swaps the table content in one transaction.
func (s *Store) ReplaceEntities(ctx context.Context, c entity.Collection) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pokemon`); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO pokemon (poke_id, name, height, weight) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range c.All() {
			if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Height, r.Weight); err != nil {
				return fmt.Errorf("insert id %d: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return store.Wrap(store.OpReplace, EntitiesTable, err)
	}
	s.logger.Debug().Int("records", c.Len()).Msg("Replaced entity table")
	return nil
}

// LoadEntities reads the catalog in id order.
func (s *Store) LoadEntities(ctx context.Context) (entity.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT poke_id, name, height, weight FROM pokemon ORDER BY poke_id`)
	if err != nil {
		return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesTable, err)
	}
	defer rows.Close()

	var records []entity.Record
	for rows.Next() {
		var r entity.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Height, &r.Weight); err != nil {
			return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesTable, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesTable, err)
	}

	c, err := entity.NewCollection(records)
	if err != nil {
		return entity.Collection{}, store.Wrap(store.OpLoad, EntitiesTable, err)
	}
	return c, nil
}

// ReplacePercentiles swaps the table content in one transaction.
func (s *Store) ReplacePercentiles(ctx context.Context, rows []entity.PercentileRow) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM percentiles`); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO percentiles (poke_id, height_percentile, weight_percentile) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, row.ID, row.HeightPercentile, row.WeightPercentile); err != nil {
				return fmt.Errorf("insert id %d: %w", row.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return store.Wrap(store.OpReplace, PercentilesTable, err)
	}
	s.logger.Debug().Int("rows", len(rows)).Msg("Replaced percentile table")
	return nil
}

// LookupPercentile reads the row for id.
func (s *Store) LookupPercentile(ctx context.Context, id int) (entity.PercentileRow, error) {
	row := entity.PercentileRow{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT height_percentile, weight_percentile FROM percentiles WHERE poke_id = ?`, id,
	).Scan(&row.HeightPercentile, &row.WeightPercentile)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.PercentileRow{}, fmt.Errorf("id %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return entity.PercentileRow{}, store.Wrap(store.OpLookup, PercentilesTable, err)
	}
	return row, nil
}

// LoadPercentiles reads every row in id order.
func (s *Store) LoadPercentiles(ctx context.Context) ([]entity.PercentileRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT poke_id, height_percentile, weight_percentile FROM percentiles ORDER BY poke_id`)
	if err != nil {
		return nil, store.Wrap(store.OpLoad, PercentilesTable, err)
	}
	defer rows.Close()

	var out []entity.PercentileRow
	for rows.Next() {
		var row entity.PercentileRow
		if err := rows.Scan(&row.ID, &row.HeightPercentile, &row.WeightPercentile); err != nil {
			return nil, store.Wrap(store.OpLoad, PercentilesTable, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(store.OpLoad, PercentilesTable, err)
	}
	return out, nil
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
