// Package records defines the row representation shared by every pipeline
// stage.
package records

// Record is one row keyed by column name. A nil value is SQL NULL.
//
// Values are normalized per column type by schema.Coerce: float64, int64,
// string, or bool.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project returns a new Record holding only the named columns. Missing columns
// are carried as nil.
func (r Record) Project(cols []string) Record {
	out := make(Record, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

// Values returns the values of cols in order, suitable for positional
// INSERT/COPY arguments.
func (r Record) Values(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// HasNull reports whether any of cols is nil or absent in r.
func (r Record) HasNull(cols ...string) bool {
	for _, c := range cols {
		if v, ok := r[c]; !ok || v == nil {
			return true
		}
	}
	return false
}
