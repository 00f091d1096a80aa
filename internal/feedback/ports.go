package feedback

import "context"

// RecordReader enumerates stored feedback records. Implementations are read-only
// from the analytics core's point of view.
type RecordReader interface {
	Records(ctx context.Context) ([]Record, error)
}

// RecordWriter appends records. Used by the import path only.
type RecordWriter interface {
	AddRecords(ctx context.Context, records []Record) error
}

// ResultStore persists trained result sets. ReplaceResults must be all or nothing.
type ResultStore interface {
	LoadResults(ctx context.Context) (ResultSet, error)
	ReplaceResults(ctx context.Context, rs ResultSet) error
}
