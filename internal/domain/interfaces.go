package domain

// Origin records where a unit came from. It is provenance only and never
// used to deduplicate units.
type Origin struct {
	Source string
	Row    int
	// Batch identifies the ingestion call that produced the unit.
	Batch string
}

// Unit is a single retrievable piece of text derived from one tabular row.
type Unit struct {
	Text     string
	Metadata map[string]any
	Origin   Origin
}

// Hit is a unit returned by a similarity search with its cosine score.
type Hit struct {
	Unit  Unit
	Score float64
}

// Row is one tabular record keyed by column name. An absent column and a
// Null value both mean the cell is missing.
type Row map[string]Value

// Get returns the value stored under column, or a Null value.
func (r Row) Get(column string) Value {
	if r == nil {
		return Value{}
	}
	return r[column]
}
