// Package store defines the persistence sinks for the raw catalog and the
// derived percentile rows.
//
// Implementations live in the subpackages csvstore, sqlite and parquet.
// Every failure is reported as a *PersistenceError; a lookup of an unknown id
// is ErrNotFound instead.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
)

// ErrNotFound is returned by LookupPercentile for an id without a row.
var ErrNotFound = errors.New("percentile row not found")

// Operations recorded in a PersistenceError.
const (
	OpOpen    = "open"
	OpAppend  = "append"
	OpReplace = "replace"
	OpLoad    = "load"
	OpLookup  = "lookup"
	OpClose   = "close"
)

// PersistenceError is a failed read or write against a store.
type PersistenceError struct {
	// Op is one of the Op* constants
	Op string

	// Target names the file or table involved
	Target string

	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *PersistenceError, or nil if err is nil.
func Wrap(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Target: target, Err: err}
}

// EntityStore persists the raw catalog.
type EntityStore interface {
	// AppendEntity adds one record to the existing content.
	AppendEntity(ctx context.Context, r entity.Record) error

	// ReplaceEntities discards the existing content and writes c.
	ReplaceEntities(ctx context.Context, c entity.Collection) error

	// LoadEntities returns the stored catalog in ascending id order.
	// An empty or missing store yields an empty collection.
	LoadEntities(ctx context.Context) (entity.Collection, error)
}

// PercentileStore persists analysis results. It is only ever written with a
// full replace.
type PercentileStore interface {
	// ReplacePercentiles discards the existing rows and writes rows.
	ReplacePercentiles(ctx context.Context, rows []entity.PercentileRow) error

	// LookupPercentile returns the row for id, or ErrNotFound.
	LookupPercentile(ctx context.Context, id int) (entity.PercentileRow, error)

	// LoadPercentiles returns every stored row in ascending id order.
	LoadPercentiles(ctx context.Context) ([]entity.PercentileRow, error)
}

// Store is a backend holding both the catalog and the percentiles.
type Store interface {
	EntityStore
	PercentileStore
	io.Closer
}
