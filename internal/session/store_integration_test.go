package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/codelake/codelake/internal/log"
	"github.com/codelake/codelake/internal/session"
	"github.com/codelake/codelake/internal/testutil"
)

func TestStoreIntegration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	sess, err := store.CreateSession(ctx, "bucket work")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == uuid.Nil {
		t.Fatal("session ID not assigned")
	}
	if sess.Title != "bucket work" {
		t.Errorf("title = %q", sess.Title)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("GetSession ID = %s, want %s", got.ID, sess.ID)
	}

	first, err := store.AppendTurn(ctx, session.Turn{
		SessionID:   sess.ID,
		Request:     "list my buckets",
		PlanSteps:   []string{"create client", "list buckets"},
		Code:        "client.ListBuckets()",
		Explanation: "lists buckets",
		Complete:    true,
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if first.SequenceNumber != 1 {
		t.Errorf("first sequence = %d, want 1", first.SequenceNumber)
	}

	second, err := store.AppendTurn(ctx, session.Turn{
		SessionID: sess.ID,
		Request:   "now add pagination",
		PlanSteps: []string{"add continuation token"},
		Code:      "for { ... }",
		Complete:  false,
	})
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if second.SequenceNumber != 2 {
		t.Errorf("second sequence = %d, want 2", second.SequenceNumber)
	}

	turns, err := store.LoadRecent(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Request != "list my buckets" || turns[1].Request != "now add pagination" {
		t.Errorf("order = [%q, %q], want chronological", turns[0].Request, turns[1].Request)
	}
	if len(turns[0].PlanSteps) != 2 || turns[0].PlanSteps[0] != "create client" {
		t.Errorf("plan steps round trip = %v", turns[0].PlanSteps)
	}
	if !turns[0].Complete || turns[1].Complete {
		t.Errorf("complete flags = %v, %v", turns[0].Complete, turns[1].Complete)
	}

	// LoadRecent with a window returns only the newest turns.
	turns, err = store.LoadRecent(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("LoadRecent(1): %v", err)
	}
	if len(turns) != 1 || turns[0].Request != "now add pagination" {
		t.Errorf("LoadRecent(1) = %+v, want just the newest", turns)
	}

	sessions, err := store.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}

	if err := store.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
	}
	// Turns are cascaded away with the session.
	turns, err = store.LoadRecent(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("LoadRecent after delete: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("turns after cascade = %d, want 0", len(turns))
	}
}

func TestStoreUnknownSessionIntegration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	if _, err := store.GetSession(ctx, uuid.New()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("GetSession = %v, want ErrNotFound", err)
	}
	if err := store.DeleteSession(ctx, uuid.New()); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("DeleteSession = %v, want ErrNotFound", err)
	}
}

func TestCreateSessionEmptyTitleIntegration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	// Untitled sessions are the default case: the API accepts an empty
	// body on session creation.
	sess, err := store.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession with empty title: %v", err)
	}
	if sess.Title != "" {
		t.Errorf("title = %q, want empty", sess.Title)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "" {
		t.Errorf("round-trip title = %q, want empty", got.Title)
	}
}

func TestAppendTurnCreatesSessionIntegration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := session.NewStore(db.Pool, log.NewNop())

	// Session IDs are minted by the pipeline without an explicit
	// CreateSession call; the first append must create the row.
	sessionID := uuid.New()
	turn, err := store.AppendTurn(ctx, session.Turn{
		SessionID: sessionID,
		Request:   "generate code for a fresh session",
		Code:      "client := s3.New()",
		Complete:  true,
	})
	if err != nil {
		t.Fatalf("AppendTurn for fresh session: %v", err)
	}
	if turn.SequenceNumber != 1 {
		t.Errorf("sequence = %d, want 1", turn.SequenceNumber)
	}

	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession after implicit create: %v", err)
	}
	if sess.ID != sessionID {
		t.Errorf("session ID = %s, want %s", sess.ID, sessionID)
	}

	turns, err := store.LoadRecent(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("LoadRecent: %v", err)
	}
	if len(turns) != 1 || turns[0].Request != "generate code for a fresh session" {
		t.Errorf("turns = %+v, want the persisted turn", turns)
	}
}
