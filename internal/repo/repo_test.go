package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/migrate"
	"pactline/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func seedPact(t *testing.T, r repo.Repo, ctx context.Context, id string) domain.Pact {
	t.Helper()
	for _, u := range []string{"alice", "bob"} {
		if err := r.UpsertUser(ctx, domain.UserProfile{ID: u, Timezone: "UTC", CreatedAt: "2026-03-01T00:00:00Z"}); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	p := domain.Pact{
		ID:                id,
		ParticipantA:      "alice",
		ParticipantB:      "bob",
		CommitmentType:    "daily_tasks",
		TargetValue:       3,
		Status:            domain.StatusActive,
		CreatedAt:         "2026-03-01T00:00:00Z",
		LastEvaluatedDate: "2026-03-01",
	}
	inTx(t, r.DB, func(tx *sql.Tx) error { return r.InsertPact(ctx, tx, p) })
	return p
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestPactRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	want := seedPact(t, r, ctx, "pact-1")
	got, err := r.GetPact(ctx, "pact-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ParticipantA != want.ParticipantA || got.LastEvaluatedDate != "2026-03-01" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if _, err := r.GetPact(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLedgerUpsertIdempotent(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedPact(t, r, ctx, "pact-1")
	entry := domain.LedgerEntry{
		PactID:        "pact-1",
		ParticipantID: "alice",
		Date:          "2026-03-02",
		ProgressValue: 2,
		MetTarget:     false,
		RecordedAt:    "2026-03-03T00:00:00Z",
	}
	inTx(t, r.DB, func(tx *sql.Tx) error { return r.UpsertLedgerEntry(ctx, tx, entry) })
	entry.ProgressValue = 5
	entry.MetTarget = true
	inTx(t, r.DB, func(tx *sql.Tx) error { return r.UpsertLedgerEntry(ctx, tx, entry) })

	got, err := r.GetLedgerEntry(ctx, "pact-1", "alice", "2026-03-02")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProgressValue != 5 || !got.MetTarget {
		t.Fatalf("expected overwrite, got %+v", got)
	}
	entries, err := r.ListLedger(ctx, repo.LedgerFilters{PactID: "pact-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected single row per participant-day, got %d", len(entries))
	}
}

func TestAdvanceEvaluationCAS(t *testing.T) {
	r, ctx := newTestRepo(t)
	p := seedPact(t, r, ctx, "pact-1")
	p.StreakCount = 1
	p.LongestStreak = 1
	p.LastEvaluatedDate = "2026-03-02"

	inTx(t, r.DB, func(tx *sql.Tx) error { return r.AdvanceEvaluation(ctx, tx, p, "2026-03-01") })

	// Second advance against the stale previous date must lose.
	tx, err := r.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = r.AdvanceEvaluation(ctx, tx, p, "2026-03-01")
	if !errors.Is(err, repo.ErrStaleEvaluation) {
		t.Fatalf("expected ErrStaleEvaluation, got %v", err)
	}
}

func TestFriendshipBothDirections(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, u := range []string{"alice", "bob"} {
		if err := r.UpsertUser(ctx, domain.UserProfile{ID: u, Timezone: "UTC", CreatedAt: "2026-03-01T00:00:00Z"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.AddFriendship(ctx, "alice", "bob", "2026-03-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		ok, err := r.AreFriends(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Fatalf("friendship %v: ok=%v err=%v", pair, ok, err)
		}
	}
	ok, err := r.AreFriends(ctx, "alice", "carol")
	if err != nil || ok {
		t.Fatalf("unexpected friendship with carol")
	}
}

func TestListPactsFilters(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedPact(t, r, ctx, "pact-1")
	pacts, err := r.ListPacts(ctx, repo.PactFilters{ParticipantID: "bob", Status: domain.StatusActive})
	if err != nil || len(pacts) != 1 {
		t.Fatalf("participant filter: %d %v", len(pacts), err)
	}
	pacts, err = r.ListPacts(ctx, repo.PactFilters{ParticipantID: "carol"})
	if err != nil || len(pacts) != 0 {
		t.Fatalf("expected empty for carol: %d %v", len(pacts), err)
	}
	ids, err := r.ActivePactIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "pact-1" {
		t.Fatalf("active ids: %v %v", ids, err)
	}
}

func TestProgressReportReplaces(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedPact(t, r, ctx, "pact-1")
	rep := domain.ProgressReport{UserID: "alice", CommitmentType: "daily_tasks", Date: "2026-03-02", ProgressValue: 1, RecordedAt: "2026-03-02T10:00:00Z"}
	if err := r.UpsertProgressReport(ctx, rep); err != nil {
		t.Fatal(err)
	}
	rep.ProgressValue = 4
	if err := r.UpsertProgressReport(ctx, rep); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetProgressReport(ctx, "alice", "daily_tasks", "2026-03-02")
	if err != nil || got.ProgressValue != 4 {
		t.Fatalf("expected replacement, got %+v %v", got, err)
	}
}
