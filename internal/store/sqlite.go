// Package store persists feedback records and trained result sets.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
)

const (
	recordsTable      = "feedback_records"
	correlationsTable = "section_topic_correlations"
	importancesTable  = "feature_importances"
	metaTable         = "result_meta"

	// rows per multi-row INSERT, well under sqlite's bound-parameter limit.
	insertBatch = 200
)

const schema = `
CREATE TABLE IF NOT EXISTS feedback_records (
	record_id    TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL DEFAULT '',
	submitted_at TEXT NOT NULL,
	scores       TEXT NOT NULL,
	free_text    TEXT NOT NULL DEFAULT '',
	sentiment    TEXT NOT NULL DEFAULT '',
	draft        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_submitted_at ON feedback_records(submitted_at);
CREATE INDEX IF NOT EXISTS idx_records_user ON feedback_records(user_id);

CREATE TABLE IF NOT EXISTS section_topic_correlations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	section_name      TEXT NOT NULL,
	topic_name        TEXT NOT NULL,
	correlation_score REAL NOT NULL,
	is_negative       INTEGER NOT NULL DEFAULT 0,
	keywords          TEXT NOT NULL DEFAULT '{}',
	sample_size       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feature_importances (
	section_name TEXT PRIMARY KEY,
	importance   REAL NOT NULL,
	correlation  REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS result_meta (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	run_id     TEXT NOT NULL DEFAULT '',
	trained_at TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore keeps records and the latest result set in one sqlite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Records returns every stored record ordered by submission time, then ID.
func (s *SQLiteStore) Records(ctx context.Context) ([]feedback.Record, error) {
	query, args, err := sq.Select("record_id", "user_id", "submitted_at", "scores", "free_text", "sentiment", "draft").
		From(recordsTable).
		OrderBy("submitted_at", "record_id").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []feedback.Record
	for rows.Next() {
		var (
			r         feedback.Record
			submitted string
			scores    string
			sentiment string
			draft     int
		)
		if err := rows.Scan(&r.ID, &r.UserID, &submitted, &scores, &r.Text, &sentiment, &draft); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if r.SubmittedAt, err = time.Parse(time.RFC3339Nano, submitted); err != nil {
			return nil, fmt.Errorf("record %s: parsing submitted_at: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
			return nil, fmt.Errorf("record %s: decoding scores: %w", r.ID, err)
		}
		r.Sentiment = feedback.Sentiment(sentiment)
		r.Draft = draft != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddRecords inserts records in a single transaction. Records are immutable:
// a record_id already stored, or repeated in the batch, rejects the whole
// batch with feedback.ErrInvalidRecord.
func (s *SQLiteStore) AddRecords(ctx context.Context, records []feedback.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := checkBatchIDs(records); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(records); start += insertBatch {
		end := min(start+insertBatch, len(records))
		ins := sq.Insert(recordsTable).
			Columns("record_id", "user_id", "submitted_at", "scores", "free_text", "sentiment", "draft")
		for _, r := range records[start:end] {
			scores, err := json.Marshal(r.Scores)
			if err != nil {
				return fmt.Errorf("record %s: encoding scores: %w", r.ID, err)
			}
			ins = ins.Values(r.ID, r.UserID, r.SubmittedAt.Format(time.RFC3339Nano), string(scores),
				r.Text, string(r.Sentiment), boolInt(r.Draft))
		}
		if err := execBuilder(ctx, tx, ins); err != nil {
			if isPrimaryKeyViolation(err) {
				return fmt.Errorf("%w: record_id already exists", feedback.ErrInvalidRecord)
			}
			return fmt.Errorf("inserting records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("records stored", zap.Int("count", len(records)))
	return nil
}

// LoadResults returns the persisted result set. An empty set is returned when
// nothing has been trained yet.
func (s *SQLiteStore) LoadResults(ctx context.Context) (feedback.ResultSet, error) {
	var rs feedback.ResultSet

	query, args, err := sq.Select("run_id", "trained_at").From(metaTable).Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return rs, err
	}
	var trainedAt string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rs.RunID, &trainedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return rs, fmt.Errorf("loading result meta: %w", err)
	case trainedAt != "":
		if rs.TrainedAt, err = time.Parse(time.RFC3339Nano, trainedAt); err != nil {
			return rs, fmt.Errorf("parsing trained_at: %w", err)
		}
	}

	if rs.Correlations, err = s.loadCorrelations(ctx); err != nil {
		return feedback.ResultSet{}, err
	}
	if rs.Importances, err = s.loadImportances(ctx); err != nil {
		return feedback.ResultSet{}, err
	}
	return rs, nil
}

func (s *SQLiteStore) loadCorrelations(ctx context.Context) ([]feedback.SectionTopicCorrelation, error) {
	query, args, err := sq.Select("section_name", "topic_name", "correlation_score", "is_negative", "keywords", "sample_size").
		From(correlationsTable).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying correlations: %w", err)
	}
	defer rows.Close()

	out := []feedback.SectionTopicCorrelation{}
	for rows.Next() {
		var (
			c        feedback.SectionTopicCorrelation
			negative int
			keywords string
		)
		if err := rows.Scan(&c.Section, &c.Topic, &c.Score, &negative, &keywords, &c.SampleSize); err != nil {
			return nil, fmt.Errorf("scanning correlation: %w", err)
		}
		c.IsNegative = negative != 0
		c.Keywords = map[string]float64{}
		if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadImportances(ctx context.Context) ([]feedback.FeatureImportance, error) {
	query, args, err := sq.Select("section_name", "importance", "correlation").
		From(importancesTable).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying importances: %w", err)
	}
	defer rows.Close()

	out := []feedback.FeatureImportance{}
	for rows.Next() {
		var fi feedback.FeatureImportance
		if err := rows.Scan(&fi.Section, &fi.Importance, &fi.Correlation); err != nil {
			return nil, fmt.Errorf("scanning importance: %w", err)
		}
		out = append(out, fi)
	}
	return out, rows.Err()
}

// ReplaceResults swaps the stored result set for rs. Readers see either the
// old set or the new one, never a mix.
func (s *SQLiteStore) ReplaceResults(ctx context.Context, rs feedback.ResultSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{correlationsTable, importancesTable, metaTable} {
		if err := execBuilder(ctx, tx, sq.Delete(table)); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	for start := 0; start < len(rs.Correlations); start += insertBatch {
		end := min(start+insertBatch, len(rs.Correlations))
		ins := sq.Insert(correlationsTable).
			Columns("section_name", "topic_name", "correlation_score", "is_negative", "keywords", "sample_size")
		for _, c := range rs.Correlations[start:end] {
			kw := c.Keywords
			if kw == nil {
				kw = map[string]float64{}
			}
			encoded, err := json.Marshal(kw)
			if err != nil {
				return fmt.Errorf("encoding keywords: %w", err)
			}
			ins = ins.Values(string(c.Section), c.Topic, c.Score, boolInt(c.IsNegative), string(encoded), c.SampleSize)
		}
		if err := execBuilder(ctx, tx, ins); err != nil {
			return fmt.Errorf("inserting correlations: %w", err)
		}
	}

	if len(rs.Importances) > 0 {
		ins := sq.Insert(importancesTable).Columns("section_name", "importance", "correlation")
		for _, fi := range rs.Importances {
			ins = ins.Values(string(fi.Section), fi.Importance, fi.Correlation)
		}
		if err := execBuilder(ctx, tx, ins); err != nil {
			return fmt.Errorf("inserting importances: %w", err)
		}
	}

	trainedAt := ""
	if !rs.TrainedAt.IsZero() {
		trainedAt = rs.TrainedAt.UTC().Format(time.RFC3339Nano)
	}
	meta := sq.Insert(metaTable).Columns("id", "run_id", "trained_at").Values(1, rs.RunID, trainedAt)
	if err := execBuilder(ctx, tx, meta); err != nil {
		return fmt.Errorf("writing result meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("results replaced",
		zap.String("run_id", rs.RunID),
		zap.Int("correlations", len(rs.Correlations)),
		zap.Int("importances", len(rs.Importances)))
	return nil
}

func execBuilder(ctx context.Context, tx *sql.Tx, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
