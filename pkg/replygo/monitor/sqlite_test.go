package monitor

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jholhewres/replygo/pkg/replygo/dify"
	"github.com/jholhewres/replygo/pkg/replygo/platform"
	"github.com/jholhewres/replygo/pkg/replygo/store"
)

// backdate rewrites a record's timestamps so it looks untouched for age.
func backdate(t *testing.T, path, sessionKey string, age time.Duration) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	old := time.Now().UTC().Add(-age).Format(time.RFC3339)
	if _, err := db.Exec(`
		UPDATE conversations SET updated_at = ?, created_at = ? WHERE session_key = ?`,
		old, old, sessionKey); err != nil {
		t.Fatalf("backdate %s: %v", sessionKey, err)
	}
}

// TestSweepAgainstSQLite runs the sweep against a real store file: the
// activation write must land in the database and pull the record out of the
// stale window for the next scan.
func TestSweepAgainstSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "conversations.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.Touch(ctx, "77001", "operator7", "555900"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	backdate(t, path, "77001", 4*time.Hour)

	log := &oplog{}
	completer := &fakeCompleter{log: log, reply: dify.Reply{Text: "still around? happy to keep helping"}}
	dispatcher := &fakeDispatcher{log: log}
	m := New(Config{}, st, completer, dispatcher,
		&fakeAuth{auth: platform.AuthContext{ChannelToken: "tok-1"}}, discardLogger())

	m.runTick(ctx)

	if len(dispatcher.sent) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(dispatcher.sent))
	}
	rec, err := st.Get(ctx, "77001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ActivationCount != 1 {
		t.Errorf("activation count = %d, want 1", rec.ActivationCount)
	}
	if time.Since(rec.UpdatedAt) > time.Minute {
		t.Errorf("updated_at not refreshed, still %v", rec.UpdatedAt)
	}

	// A fresh monitor carries no dedup state, so only the refreshed
	// timestamp keeps the record out of this scan.
	m2 := New(Config{}, st, completer, dispatcher, &fakeAuth{}, discardLogger())
	m2.runTick(ctx)
	if len(dispatcher.sent) != 1 {
		t.Fatalf("re-engaged a conversation touched moments ago")
	}
}

// TestSweepSuppressionAgainstSQLite verifies the END sentinel pushes the
// stored activation count past the ceiling for good.
func TestSweepSuppressionAgainstSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "conversations.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.Touch(ctx, "77002", "operator7", "555901"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	backdate(t, path, "77002", 4*time.Hour)

	log := &oplog{}
	completer := &fakeCompleter{log: log, reply: dify.Reply{Text: "END"}}
	dispatcher := &fakeDispatcher{log: log}
	m := New(Config{}, st, completer, dispatcher, &fakeAuth{}, discardLogger())

	m.runTick(ctx)

	if len(dispatcher.sent) != 0 {
		t.Fatalf("dispatched %v for an ended conversation", dispatcher.sent)
	}
	rec, err := st.Get(ctx, "77002")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.ActivationCount != store.SuppressionDelta {
		t.Errorf("activation count = %d, want %d", rec.ActivationCount, store.SuppressionDelta)
	}

	// Even stale again, the record stays suppressed.
	backdate(t, path, "77002", 4*time.Hour)
	m2 := New(Config{}, st, completer, dispatcher, &fakeAuth{}, discardLogger())
	m2.runTick(ctx)
	if len(completer.reqs) != 1 {
		t.Fatalf("completions = %d, want 1 (suppressed record re-engaged)", len(completer.reqs))
	}
}
