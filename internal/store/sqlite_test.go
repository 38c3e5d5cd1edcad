package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fullex26/autowatch/internal/autowatch"
	"github.com/Fullex26/autowatch/pkg/models"
)

var (
	_ autowatch.WatcherRegistry = (*Store)(nil)
	_ autowatch.Journal         = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeActivity(id string, outcome models.Outcome, ts time.Time) models.Activity {
	return models.Activity{
		EventID:    id,
		Kind:       models.KindCommented,
		UserID:     "alice",
		IssueKey:   "PROD-1",
		ProjectKey: "PROD",
		Outcome:    outcome,
		Timestamp:  ts,
	}
}

var (
	alice = models.User{Name: "alice"}
	bob   = models.User{AccountID: "5b10ac8d82e05b22cc7d4ef5"}
	prod1 = models.Issue{ID: "10001", Key: "PROD-1", ProjectKey: "PROD"}
	prod2 = models.Issue{ID: "10002", Key: "PROD-2", ProjectKey: "PROD"}
)

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	s.Close()
}

func TestOpen_IdempotentMigration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	s2.Close()
}

func TestStartWatching_AndIsWatching(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	watching, err := s.IsWatching(ctx, alice, prod1)
	if err != nil {
		t.Fatalf("IsWatching: %v", err)
	}
	if watching {
		t.Fatal("alice should not watch PROD-1 yet")
	}

	if err := s.StartWatching(ctx, alice, prod1); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}

	watching, _ = s.IsWatching(ctx, alice, prod1)
	if !watching {
		t.Error("alice should watch PROD-1")
	}
	watching, _ = s.IsWatching(ctx, alice, prod2)
	if watching {
		t.Error("alice should not watch PROD-2")
	}
	watching, _ = s.IsWatching(ctx, bob, prod1)
	if watching {
		t.Error("bob should not watch PROD-1")
	}
}

func TestStartWatching_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.StartWatching(ctx, alice, prod1); err != nil {
			t.Fatalf("StartWatching: %v", err)
		}
	}

	watchers, err := s.ListWatchers(ctx, "PROD-1")
	if err != nil {
		t.Fatalf("ListWatchers: %v", err)
	}
	if len(watchers) != 1 {
		t.Errorf("got %d watchers, want 1", len(watchers))
	}
}

func TestStartWatching_RequiresIdentity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.StartWatching(ctx, models.User{}, prod1); err == nil {
		t.Error("expected error for user without id")
	}
	if err := s.StartWatching(ctx, alice, models.Issue{ProjectKey: "PROD"}); err == nil {
		t.Error("expected error for issue without id or key")
	}
}

func TestIsWatching_SurvivesKeyChange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.StartWatching(ctx, alice, prod1)
	moved := models.Issue{ID: prod1.ID, Key: "OPS-7", ProjectKey: "OPS"}

	watching, err := s.IsWatching(ctx, alice, moved)
	if err != nil {
		t.Fatalf("IsWatching: %v", err)
	}
	if !watching {
		t.Error("watch should follow the issue id after a move")
	}
}

func TestStopWatching(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.StartWatching(ctx, alice, prod1)
	s.StartWatching(ctx, bob, prod1)

	removed, err := s.StopWatching(ctx, "alice", "PROD-1")
	if err != nil {
		t.Fatalf("StopWatching: %v", err)
	}
	if !removed {
		t.Error("expected a watcher to be removed")
	}

	watching, _ := s.IsWatching(ctx, alice, prod1)
	if watching {
		t.Error("alice should no longer watch PROD-1")
	}
	watching, _ = s.IsWatching(ctx, bob, prod1)
	if !watching {
		t.Error("bob should still watch PROD-1")
	}

	removed, err = s.StopWatching(ctx, "alice", "10001")
	if err != nil {
		t.Fatalf("StopWatching: %v", err)
	}
	if removed {
		t.Error("second removal should report nothing removed")
	}
}

func TestStopWatching_ThenAutoWatchAgain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	outcome, err := autowatch.Decide(ctx, autowatch.WatchRule{}, s, alice, prod1)
	if err != nil || outcome != models.OutcomeWatched {
		t.Fatalf("first Decide = %q, %v", outcome, err)
	}
	s.StopWatching(ctx, alice.ID(), prod1.Key)

	outcome, err = autowatch.Decide(ctx, autowatch.WatchRule{}, s, alice, prod1)
	if err != nil || outcome != models.OutcomeWatched {
		t.Errorf("Decide after unwatch = %q, %v; want watched", outcome, err)
	}
}

func TestListWatchers_And_ListWatching(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.StartWatching(ctx, alice, prod1)
	s.StartWatching(ctx, bob, prod1)
	s.StartWatching(ctx, alice, prod2)

	watchers, err := s.ListWatchers(ctx, "10001")
	if err != nil {
		t.Fatalf("ListWatchers: %v", err)
	}
	if len(watchers) != 2 {
		t.Fatalf("got %d watchers of PROD-1, want 2", len(watchers))
	}
	if watchers[0].IssueKey != "PROD-1" || watchers[0].ProjectKey != "PROD" {
		t.Errorf("watcher = %+v", watchers[0])
	}

	watching, err := s.ListWatching(ctx, "alice")
	if err != nil {
		t.Fatalf("ListWatching: %v", err)
	}
	if len(watching) != 2 {
		t.Errorf("alice watches %d issues, want 2", len(watching))
	}

	none, err := s.ListWatchers(ctx, "NOPE-1")
	if err != nil {
		t.Fatalf("ListWatchers: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d watchers for unknown issue", len(none))
	}
}

func TestRecord_AndGetRecentActivity(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		a := makeActivity("e"+string(rune('0'+i)), models.OutcomeWatched, now.Add(-time.Duration(i)*time.Minute))
		if err := s.Record(a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := s.GetRecentActivity(1)
	if err != nil {
		t.Fatalf("GetRecentActivity: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}

	// Verify descending order by timestamp
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Error("entries not in descending timestamp order")
		}
	}
}

func TestRecord_SameEventTwice(t *testing.T) {
	s := openTestStore(t)
	a := makeActivity("dup", models.OutcomeWatched, time.Now())
	if err := s.Record(a); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(a); err != nil {
		t.Fatalf("second Record: %v", err)
	}
	count, _ := s.GetActivityCount(1)
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestGetRecentActivity_TimeFiltering(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	s.Record(makeActivity("old", models.OutcomeWatched, now.Add(-2*time.Hour)))
	s.Record(makeActivity("recent", models.OutcomeExcluded, now.Add(-30*time.Minute)))

	entries, err := s.GetRecentActivity(1)
	if err != nil {
		t.Fatalf("GetRecentActivity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].EventID != "recent" || entries[0].Outcome != models.OutcomeExcluded {
		t.Errorf("got %+v, want the recent excluded entry", entries[0])
	}
}

func TestGetLastWatchTime(t *testing.T) {
	s := openTestStore(t)

	result, err := s.GetLastWatchTime()
	if err != nil {
		t.Fatalf("GetLastWatchTime: %v", err)
	}
	if result != "never" {
		t.Errorf("got %q, want %q", result, "never")
	}

	s.Record(makeActivity("skip", models.OutcomeExcluded, time.Now()))
	result, _ = s.GetLastWatchTime()
	if result != "never" {
		t.Errorf("non-watch outcomes should return 'never', got %q", result)
	}

	s.Record(makeActivity("w", models.OutcomeWatched, time.Now().Add(-5*time.Minute)))
	result, _ = s.GetLastWatchTime()
	if result == "never" {
		t.Error("expected a time, got 'never'")
	}
}

func TestSetState_GetState(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetState("key1", "value1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	s.SetState("key1", "value2")
	got, err := s.GetState("key1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got != "value2" {
		t.Errorf("got %q, want %q", got, "value2")
	}
}

func TestGetState_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetState("nonexistent")
	if err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		s.Record(makeActivity("old"+string(rune('0'+i)), models.OutcomeWatched, now.AddDate(0, 0, -60)))
	}
	for i := 0; i < 3; i++ {
		s.Record(makeActivity("new"+string(rune('0'+i)), models.OutcomeWatched, now))
	}
	s.StartWatching(ctx, alice, prod1)

	affected, err := s.Prune(30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, want 2", affected)
	}

	count, _ := s.GetActivityCount(24 * 365)
	if count != 3 {
		t.Errorf("remaining entries = %d, want 3", count)
	}
	watching, _ := s.IsWatching(ctx, alice, prod1)
	if !watching {
		t.Error("Prune must not remove watchers")
	}
}
