package pgclient

import (
	"fmt"

	"github.com/mevdschee/pgclient/types"
)

// Row is one decoded result row. Column access is 0-based, departing from
// the 1-based indexing of the source this was modeled on; Go slices and
// every standard library row-scanning convention are 0-based, and carrying
// over 1-based indices here would be the one surprising wart in an
// otherwise idiomatic API.
type Row struct {
	values   [][]byte
	columns  []ColumnDescription
	registry *types.Registry
}

// Len returns the number of columns in the row.
func (r *Row) Len() int {
	return len(r.values)
}

// At decodes column i (0-based) using the registered codec for its type. It
// panics if i is out of range, the same contract a direct slice index has.
func (r *Row) At(i int) (any, error) {
	if i < 0 || i >= len(r.values) {
		panic(fmt.Sprintf("pgclient: row index %d out of range [0, %d)", i, len(r.values)))
	}
	col := r.columns[i]
	codec := r.registry.Lookup(col.OID)
	format := r.registry.ResultFormat(col.OID)
	return codec.FromSql(col.OID, format, r.values[i])
}

// Get decodes the column with the given exact, case-sensitive name. It
// panics if no column has that name, since an unknown column is always a
// caller bug, not a runtime condition worth an error return.
func (r *Row) Get(name string) (any, error) {
	for i, col := range r.columns {
		if col.Name == name {
			return r.At(i)
		}
	}
	panic(fmt.Sprintf("pgclient: no such column %q", name))
}

// Raw returns column i's undecoded wire bytes, or nil for SQL NULL. Panics
// on an out-of-range index, same as At.
func (r *Row) Raw(i int) []byte {
	if i < 0 || i >= len(r.values) {
		panic(fmt.Sprintf("pgclient: row index %d out of range [0, %d)", i, len(r.values)))
	}
	return r.values[i]
}

// IsNull reports whether column i is SQL NULL. Panics on an out-of-range
// index, same as At.
func (r *Row) IsNull(i int) bool {
	if i < 0 || i >= len(r.values) {
		panic(fmt.Sprintf("pgclient: row index %d out of range [0, %d)", i, len(r.values)))
	}
	return r.values[i] == nil
}
