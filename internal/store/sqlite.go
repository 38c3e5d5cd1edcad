package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Fullex26/autowatch/pkg/models"
	_ "modernc.org/sqlite"
)

const DefaultDBPath = "/var/lib/autowatch/autowatch.db"

// Keys in the state table
const (
	KeyListenerState = "listener_state"
	KeyLastCleanup   = "last_cleanup"
)

// Watcher is one (user, issue) subscription
type Watcher struct {
	UserID     string    `json:"user_id"`
	IssueID    string    `json:"issue_id"`
	IssueKey   string    `json:"issue_key"`
	ProjectKey string    `json:"project_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is a SQLite watcher registry and activity journal
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS watchers (
			user_id TEXT NOT NULL,
			issue_id TEXT NOT NULL,
			issue_key TEXT NOT NULL,
			project_key TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, issue_id)
		);

		CREATE INDEX IF NOT EXISTS idx_watchers_issue_key ON watchers(issue_key);

		CREATE TABLE IF NOT EXISTS activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT,
			kind TEXT NOT NULL,
			user_id TEXT NOT NULL,
			issue_key TEXT NOT NULL,
			project_key TEXT NOT NULL,
			outcome TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			payload TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity(timestamp);
		CREATE INDEX IF NOT EXISTS idx_activity_outcome ON activity(outcome);

		CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// issueID is the stable identity of an issue; keys change when issues move.
func issueID(issue models.Issue) string {
	if issue.ID != "" {
		return issue.ID
	}
	return issue.Key
}

// IsWatching reports whether user watches issue
func (s *Store) IsWatching(ctx context.Context, user models.User, issue models.Issue) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watchers WHERE user_id = ? AND issue_id = ?`,
		user.ID(), issueID(issue),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying watchers: %w", err)
	}
	return n > 0, nil
}

// StartWatching adds user to the issue's watchers. Adding an existing
// watcher is a no-op.
func (s *Store) StartWatching(ctx context.Context, user models.User, issue models.Issue) error {
	if user.ID() == "" {
		return fmt.Errorf("user has no id")
	}
	if issueID(issue) == "" {
		return fmt.Errorf("issue has no id or key")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO watchers (user_id, issue_id, issue_key, project_key, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.ID(), issueID(issue), issue.Ref(), issue.ProjectKey, time.Now(),
	)
	return err
}

// StopWatching removes a watcher by user id and issue id or key. It reports
// whether anything was removed.
func (s *Store) StopWatching(ctx context.Context, userID, issue string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM watchers WHERE user_id = ? AND (issue_id = ? OR issue_key = ?)`,
		userID, issue, issue,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// ListWatchers returns the watchers of an issue, by id or key, oldest first
func (s *Store) ListWatchers(ctx context.Context, issue string) ([]Watcher, error) {
	return s.queryWatchers(ctx, `
		SELECT user_id, issue_id, issue_key, project_key, created_at FROM watchers
		WHERE issue_id = ? OR issue_key = ?
		ORDER BY created_at ASC`, issue, issue)
}

// ListWatching returns the issues a user watches, newest first
func (s *Store) ListWatching(ctx context.Context, userID string) ([]Watcher, error) {
	return s.queryWatchers(ctx, `
		SELECT user_id, issue_id, issue_key, project_key, created_at FROM watchers
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
}

func (s *Store) queryWatchers(ctx context.Context, query string, args ...any) ([]Watcher, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watchers []Watcher
	for rows.Next() {
		var w Watcher
		if err := rows.Scan(&w.UserID, &w.IssueID, &w.IssueKey, &w.ProjectKey, &w.CreatedAt); err != nil {
			return nil, err
		}
		watchers = append(watchers, w)
	}
	return watchers, rows.Err()
}

// Record appends an entry to the activity journal
func (s *Store) Record(a models.Activity) error {
	payload, _ := json.Marshal(a)
	_, err := s.db.Exec(`
		INSERT INTO activity (event_id, kind, user_id, issue_key, project_key, outcome, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.EventID, a.Kind, a.UserID, a.IssueKey, a.ProjectKey, a.Outcome, a.Timestamp, string(payload),
	)
	return err
}

// GetRecentActivity returns journal entries from the last N hours
func (s *Store) GetRecentActivity(hours int) ([]models.Activity, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.db.Query(`
		SELECT payload FROM activity
		WHERE timestamp > ?
		ORDER BY timestamp DESC
		LIMIT 100`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Activity
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var a models.Activity
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			continue
		}
		entries = append(entries, a)
	}
	return entries, nil
}

// GetActivityCount returns the number of journal entries in the last N hours
func (s *Store) GetActivityCount(hours int) (int, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM activity WHERE timestamp > ?`, since).Scan(&count)
	return count, err
}

// GetLastWatchTime returns when a user was last auto-watched
func (s *Store) GetLastWatchTime() (string, error) {
	var timestamp time.Time
	err := s.db.QueryRow(`
		SELECT timestamp FROM activity
		WHERE outcome = ?
		ORDER BY timestamp DESC
		LIMIT 1`, models.OutcomeWatched).Scan(&timestamp)
	if err != nil {
		return "never", nil
	}

	diff := time.Since(timestamp)
	if diff < time.Hour {
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes())), nil
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%d hours ago", int(diff.Hours())), nil
	}
	return fmt.Sprintf("%d days ago", int(diff.Hours()/24)), nil
}

// SetState stores a key-value pair
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetState retrieves a stored value
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	return value, err
}

// Prune removes journal entries older than N days. Watchers are never pruned.
func (s *Store) Prune(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	result, err := s.db.Exec(`DELETE FROM activity WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
