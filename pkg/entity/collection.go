package entity

import (
	"errors"
	"fmt"
	"iter"
	"sort"
)

// ErrUnordered is returned when records are not strictly ascending by id.
var ErrUnordered = errors.New("records not strictly ascending by id")

// Collection is an ordered, read-only sequence of records.
// Records are strictly ascending by id; ids are unique.
type Collection struct {
	records []Record
}

// NewCollection builds a collection from records already ordered by id.
// The slice is copied.
func NewCollection(records []Record) (Collection, error) {
	for i := 1; i < len(records); i++ {
		if records[i].ID <= records[i-1].ID {
			return Collection{}, fmt.Errorf("%w: id %d follows id %d",
				ErrUnordered, records[i].ID, records[i-1].ID)
		}
	}
	out := make([]Record, len(records))
	copy(out, records)
	return Collection{records: out}, nil
}

// Len returns the number of records.
func (c Collection) Len() int { return len(c.records) }

// At returns the record at position i.
func (c Collection) At(i int) Record { return c.records[i] }

// Records returns a copy of the underlying records.
func (c Collection) Records() []Record {
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Get looks up a record by id.
func (c Collection) Get(id int) (Record, bool) {
	i := sort.Search(len(c.records), func(i int) bool { return c.records[i].ID >= id })
	if i < len(c.records) && c.records[i].ID == id {
		return c.records[i], true
	}
	return Record{}, false
}

// IDs returns the ids in collection order.
func (c Collection) IDs() []int {
	ids := make([]int, len(c.records))
	for i, r := range c.records {
		ids[i] = r.ID
	}
	return ids
}

// All iterates over position and record.
func (c Collection) All() iter.Seq2[int, Record] {
	return func(yield func(int, Record) bool) {
		for i, r := range c.records {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Attribute iterates over the selected attribute of every record.
func (c Collection) Attribute(sel Selector) iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for _, r := range c.records {
			if !yield(sel(r)) {
				return
			}
		}
	}
}

// Heights iterates over record heights.
func (c Collection) Heights() iter.Seq[float64] { return c.Attribute(HeightOf) }

// Weights iterates over record weights.
func (c Collection) Weights() iter.Seq[float64] { return c.Attribute(WeightOf) }

// Values collects the selected attribute into a new slice.
func (c Collection) Values(sel Selector) []float64 {
	out := make([]float64, 0, len(c.records))
	for v := range c.Attribute(sel) {
		out = append(out, v)
	}
	return out
}

// PercentileRows returns one row per record with both percentiles set.
func (c Collection) PercentileRows() []PercentileRow {
	rows := make([]PercentileRow, 0, len(c.records))
	for _, r := range c.records {
		if !r.Analyzed() {
			continue
		}
		rows = append(rows, PercentileRow{
			ID:               r.ID,
			HeightPercentile: *r.HeightPercentile,
			WeightPercentile: *r.WeightPercentile,
		})
	}
	return rows
}
