// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/pokeapi-percentiles/pkg/entity"
	"github.com/Sternrassler/pokeapi-percentiles/pkg/store"
)

// Records returns a small catalog in ascending id order.
func Records() []entity.Record {
	return []entity.Record{
		{ID: 1, Name: "bulbasaur", Height: 7, Weight: 69},
		{ID: 2, Name: "ivysaur", Height: 10, Weight: 130},
		{ID: 3, Name: "venusaur", Height: 20, Weight: 1000},
		{ID: 4, Name: "charmander", Height: 6, Weight: 85},
	}
}

// Collection returns Records as a collection.
func Collection(t *testing.T) entity.Collection {
	t.Helper()
	c, err := entity.NewCollection(Records())
	require.NoError(t, err)
	return c
}

// Rows returns percentile rows for Records.
func Rows() []entity.PercentileRow {
	return []entity.PercentileRow{
		{ID: 1, HeightPercentile: 37.5, WeightPercentile: 12.5},
		{ID: 2, HeightPercentile: 62.5, WeightPercentile: 62.5},
		{ID: 3, HeightPercentile: 87.5, WeightPercentile: 87.5},
		{ID: 4, HeightPercentile: 12.5, WeightPercentile: 37.5},
	}
}

// RunEntityStore exercises an EntityStore created fresh by newStore.
func RunEntityStore(t *testing.T, newStore func(t *testing.T) store.EntityStore) {
	ctx := context.Background()

	t.Run("empty store loads empty collection", func(t *testing.T) {
		s := newStore(t)
		c, err := s.LoadEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("replace then load", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplaceEntities(ctx, Collection(t)))

		c, err := s.LoadEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, Records(), c.Records())
	})

	t.Run("replace discards previous content", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplaceEntities(ctx, Collection(t)))

		smaller, err := entity.NewCollection(Records()[:2])
		require.NoError(t, err)
		require.NoError(t, s.ReplaceEntities(ctx, smaller))

		c, err := s.LoadEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, c.IDs())
	})

	t.Run("append adds records", func(t *testing.T) {
		s := newStore(t)
		for _, r := range Records() {
			require.NoError(t, s.AppendEntity(ctx, r))
		}

		c, err := s.LoadEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, Records(), c.Records())
	})

	t.Run("append after replace keeps both", func(t *testing.T) {
		s := newStore(t)
		first, err := entity.NewCollection(Records()[:3])
		require.NoError(t, err)
		require.NoError(t, s.ReplaceEntities(ctx, first))
		require.NoError(t, s.AppendEntity(ctx, Records()[3]))

		c, err := s.LoadEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4}, c.IDs())
	})

	t.Run("fractional attributes survive", func(t *testing.T) {
		s := newStore(t)
		r := entity.Record{ID: 9, Name: "blastoise", Height: 16.25, Weight: 855.5}
		require.NoError(t, s.AppendEntity(ctx, r))

		c, err := s.LoadEntities(ctx)
		require.NoError(t, err)
		got, ok := c.Get(9)
		require.True(t, ok)
		assert.Equal(t, r, got)
	})
}

// RunPercentileStore exercises a PercentileStore created fresh by newStore.
func RunPercentileStore(t *testing.T, newStore func(t *testing.T) store.PercentileStore) {
	ctx := context.Background()

	t.Run("lookup on empty store", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LookupPercentile(ctx, 1)
		assert.True(t, errors.Is(err, store.ErrNotFound), "got %v", err)

		var pe *store.PersistenceError
		assert.False(t, errors.As(err, &pe), "a miss is not a persistence failure")
	})

	t.Run("replace then lookup", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplacePercentiles(ctx, Rows()))

		row, err := s.LookupPercentile(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, Rows()[2], row)

		_, err = s.LookupPercentile(ctx, 99)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("load returns ascending rows", func(t *testing.T) {
		s := newStore(t)
		shuffled := []entity.PercentileRow{Rows()[2], Rows()[0], Rows()[3], Rows()[1]}
		require.NoError(t, s.ReplacePercentiles(ctx, shuffled))

		rows, err := s.LoadPercentiles(ctx)
		require.NoError(t, err)
		assert.Equal(t, Rows(), rows)
	})

	t.Run("second replace leaves only the new rows", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplacePercentiles(ctx, Rows()))

		second := []entity.PercentileRow{
			{ID: 2, HeightPercentile: 25, WeightPercentile: 75},
			{ID: 7, HeightPercentile: 75, WeightPercentile: 25},
		}
		require.NoError(t, s.ReplacePercentiles(ctx, second))

		rows, err := s.LoadPercentiles(ctx)
		require.NoError(t, err)
		assert.Equal(t, second, rows)

		_, err = s.LookupPercentile(ctx, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("replace with no rows empties the store", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplacePercentiles(ctx, Rows()))
		require.NoError(t, s.ReplacePercentiles(ctx, nil))

		rows, err := s.LoadPercentiles(ctx)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}
