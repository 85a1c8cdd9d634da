package ledger

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	image_hash TEXT NOT NULL,
	observation_id INTEGER NOT NULL,
	filename TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	caption TEXT,
	inat_photo_id INTEGER
);
CREATE INDEX IF NOT EXISTS idx_uploads_pair ON uploads(image_hash, observation_id);
`

// SQLiteStore keeps the ledger in an uploads table, in insertion order.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (lazily) the database at path. Use ":memory:" in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) ensureSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		if strings.Contains(err.Error(), "not a database") {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load() ([]UploadRecord, error) {
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT image_hash, observation_id, filename, timestamp, caption, inat_photo_id
		FROM uploads ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var records []UploadRecord
	for rows.Next() {
		var (
			rec     UploadRecord
			ts      string
			caption sql.NullString
			photoID sql.NullInt64
		)
		if err := rows.Scan(&rec.ImageHash, &rec.ObservationID, &rec.Filename, &ts, &caption, &photoID); err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		if rec.Timestamp, err = ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if caption.Valid {
			rec.Caption = &caption.String
		}
		if photoID.Valid {
			rec.PhotoID = &photoID.Int64
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Save replaces every row inside one transaction.
func (s *SQLiteStore) Save(records []UploadRecord) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM uploads`); err != nil {
		return fmt.Errorf("clear uploads: %w", err)
	}
	for _, rec := range records {
		if err := insert(tx, rec); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Append inserts a single row.
func (s *SQLiteStore) Append(rec UploadRecord) error {
	if err := s.ensureSchema(); err != nil {
		return err
	}
	return insert(s.db, rec)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insert(db execer, rec UploadRecord) error {
	var caption sql.NullString
	if rec.Caption != nil {
		caption = sql.NullString{String: *rec.Caption, Valid: true}
	}
	var photoID sql.NullInt64
	if rec.PhotoID != nil {
		photoID = sql.NullInt64{Int64: *rec.PhotoID, Valid: true}
	}
	_, err := db.Exec(`INSERT INTO uploads (image_hash, observation_id, filename, timestamp, caption, inat_photo_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ImageHash, rec.ObservationID, rec.Filename, FormatTimestamp(rec.Timestamp), caption, photoID)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
