package store

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Store is the full persistence surface used by the daemon.
type Store interface {
	feedback.RecordReader
	feedback.RecordWriter
	feedback.ResultStore
	io.Closer
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Open returns the store for driver.
func Open(driver, path string, logger *zap.Logger) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(path, logger)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// checkBatchIDs rejects a batch that repeats a record_id.
func checkBatchIDs(records []feedback.Record) error {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: record %s repeated in batch", feedback.ErrInvalidRecord, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
