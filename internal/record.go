package internal

// Record is one row pulled from a snapshot source. Field order matters
// to the parquet writer, so fields and values stay in parallel slices
// instead of a map.
type Record struct {
	fields []string
	values []any
}

func NewRecord(fields []string, values []any) *Record {
	return &Record{
		fields: fields,
		values: values,
	}
}

func (r *Record) Len() int {
	return len(r.fields)
}

func (r *Record) Fields() []string {
	return r.fields
}

func (r *Record) Values() []any {
	return r.values
}

func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.fields))
	for i, field := range r.fields {
		m[field] = r.values[i]
	}
	return m
}
