// Package storage keeps a SQLite capture log of received serial chunks.
package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	serial "github.com/Station-Manager/serialreader"
)

// Capture is one stored chunk.
type Capture struct {
	ID         int64
	Port       string
	Data       []byte
	ReceivedAt time.Time
}

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS captures (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        port TEXT NOT NULL,
        data BLOB NOT NULL,
        received_at INTEGER NOT NULL
    )`); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Add(port string, data []byte, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO captures(port, data, received_at) VALUES (?, ?, ?)`, port, data, at.UnixNano())
	return err
}

// List returns captures in arrival order. A limit <= 0 returns all of them.
func (s *Store) List(limit int) ([]Capture, error) {
	q := `SELECT id, port, data, received_at FROM captures ORDER BY id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caps []Capture
	for rows.Next() {
		var (
			c  Capture
			ns int64
		)
		if err := rows.Scan(&c.ID, &c.Port, &c.Data, &ns); err != nil {
			return nil, err
		}
		c.ReceivedAt = time.Unix(0, ns)
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// Listener returns a serial.Listener that records every chunk for port.
func (s *Store) Listener(port string, logger zerolog.Logger) serial.Listener {
	return func(chunk []byte) {
		if err := s.Add(port, chunk, time.Now()); err != nil {
			logger.Error().Err(err).Str("sink", "storage").Msg("capture insert failed")
		}
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}
