package collector

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hookwire/hookwire/event"
)

// Store persists records in a SQLite database. Safe for use from the
// collector's drain goroutine alongside readers.
type Store struct {
	db *sql.DB
}

const recordSchema = `
CREATE TABLE IF NOT EXISTS records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	pid INTEGER NOT NULL,
	uid INTEGER NOT NULL,
	provenance TEXT NOT NULL,
	comm TEXT NOT NULL,
	message TEXT NOT NULL,
	path TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
CREATE INDEX IF NOT EXISTS idx_records_pid ON records(pid);
`

// OpenStore opens or creates the database at path. Pass ":memory:"
// for an ephemeral store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec(recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// StoredRecord is a decoded record row.
type StoredRecord struct {
	Time       time.Time
	Pid        uint32
	UID        uint32
	Provenance string
	Comm       string
	Message    string
	Path       string
}

// Insert stores one record, stamped with the current time.
func (s *Store) Insert(d event.Data) error {
	_, err := s.db.Exec(
		`INSERT INTO records (timestamp, pid, uid, provenance, comm, message, path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now(), d.Pid, d.UID, d.Provenance.String(),
		d.CommString(), d.MessageString(), d.PathString(),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// Recent returns at most limit records, newest first.
func (s *Store) Recent(limit int) ([]StoredRecord, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, pid, uid, provenance, comm, message, path
		 FROM records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		var rec StoredRecord
		if err := rows.Scan(&rec.Time, &rec.Pid, &rec.UID, &rec.Provenance,
			&rec.Comm, &rec.Message, &rec.Path); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
