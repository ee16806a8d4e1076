// Package stats keeps privacy-conscious contact form metrics: a salted hash
// of the sender IP, the delivery outcome and a timestamp. Names, addresses
// and message bodies are never stored.
package stats

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zachkp/portfolio/internal/logging"
)

const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS contact_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hashed_ip TEXT NOT NULL,
	outcome TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contact_events_created_at ON contact_events(created_at);
`

// Event is one recorded delivery attempt.
type Event struct {
	ID        int64     `json:"id"`
	HashedIP  string    `json:"hashed_ip"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is the admin view of the contact form.
type Summary struct {
	Total          int64            `json:"total"`
	UniqueSenders  int64            `json:"unique_senders"`
	Today          int64            `json:"today"`
	ThisWeek       int64            `json:"this_week"`
	ByOutcome      map[string]int64 `json:"by_outcome"`
	RecentActivity []Event          `json:"recent_activity"`
}

type Store struct {
	db     *sql.DB
	salt   string
	logger *logging.Logger
	now    func() time.Time
}

// Open creates or migrates the metrics database at path.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create stats directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats schema: %w", err)
	}

	salt, err := newSalt()
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Privacy: contact metrics enabled with hashed IP addresses")
	return &Store{db: db, salt: salt, logger: logger, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// newSalt is regenerated on every start, so hashes cannot be joined across
// restarts.
func newSalt() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate hashing salt: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashIP is consistent per IP for the lifetime of the store.
func (s *Store) HashIP(ip string) string {
	hash := sha256.New()
	hash.Write([]byte(ip + s.salt))
	return hex.EncodeToString(hash.Sum(nil))[:16]
}

// Record stores one delivery outcome.
func (s *Store) Record(ctx context.Context, clientIP string, outcome string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_events (hashed_ip, outcome, created_at) VALUES (?, ?, ?)`,
		s.HashIP(clientIP), outcome, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record contact event: %w", err)
	}
	return nil
}

func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	summary := &Summary{ByOutcome: map[string]int64{}, RecentActivity: []Event{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT hashed_ip) FROM contact_events`).
		Scan(&summary.Total, &summary.UniqueSenders)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_events WHERE created_at >= ?`,
		startOfDay.Format(timeLayout)).Scan(&summary.Today)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contact_events WHERE created_at >= ?`,
		now.AddDate(0, 0, -7).Format(timeLayout)).Scan(&summary.ThisWeek)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM contact_events GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		summary.ByOutcome[outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summary.RecentActivity, err = s.Recent(ctx, 50)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Recent returns the newest events first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hashed_ip, outcome, created_at
		FROM contact_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var event Event
		var createdAt string
		if err := rows.Scan(&event.ID, &event.HashedIP, &event.Outcome, &createdAt); err != nil {
			return nil, err
		}
		event.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp on event %d: %w", event.ID, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Prune deletes events older than retention.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-retention).Format(timeLayout)
	result, err := s.db.ExecContext(ctx, `DELETE FROM contact_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune contact events: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		s.logger.Info("Privacy cleanup: removed %d contact events older than %s", deleted, retention)
	}
	return deleted, nil
}

// RunRetention prunes once immediately and then every interval until ctx
// is done.
func (s *Store) RunRetention(ctx context.Context, interval, retention time.Duration) {
	if _, err := s.Prune(ctx, retention); err != nil {
		s.logger.Error("Error cleaning up contact events: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, retention); err != nil {
				s.logger.Error("Error cleaning up contact events: %v", err)
			}
		}
	}
}
