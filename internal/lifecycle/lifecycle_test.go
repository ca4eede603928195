package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pactline/internal/config"
	"pactline/internal/db"
	"pactline/internal/domain"
	"pactline/internal/lifecycle"
	"pactline/internal/migrate"
	"pactline/internal/notify"
	"pactline/internal/repo"
)

type testEnv struct {
	Manager lifecycle.Manager
	Repo    repo.Repo
	Ctx     context.Context
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	m := lifecycle.New(conn, cfg, nil, notify.Discard{})
	m.Now = func() time.Time { return fixedNow }
	env := &testEnv{Manager: m, Repo: repo.Repo{DB: conn}, Ctx: context.Background()}
	env.addUser(t, "alice", "Asia/Tokyo")
	env.addUser(t, "bob", "America/Los_Angeles")
	env.addUser(t, "carol", "UTC")
	if err := env.Repo.AddFriendship(env.Ctx, "alice", "bob", fixedNow.Format(time.RFC3339)); err != nil {
		t.Fatalf("friendship: %v", err)
	}
	return env
}

func (e *testEnv) addUser(t *testing.T, id, tz string) {
	t.Helper()
	if err := e.Repo.UpsertUser(e.Ctx, domain.UserProfile{ID: id, Timezone: tz, CreatedAt: fixedNow.Format(time.RFC3339)}); err != nil {
		t.Fatalf("user %s: %v", id, err)
	}
}

func (e *testEnv) createPact(t *testing.T) domain.Pact {
	t.Helper()
	p, err := e.Manager.Create(e.Ctx, lifecycle.CreateOptions{
		Initiator:      "alice",
		Partner:        "bob",
		CommitmentType: "daily_tasks",
	})
	if err != nil {
		t.Fatalf("create pact: %v", err)
	}
	return p
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.Manager.Create(env.Ctx, lifecycle.CreateOptions{
		Initiator: "alice", Partner: "alice", CommitmentType: "daily_tasks",
	}); !errors.Is(err, lifecycle.ErrSelfPact) {
		t.Fatalf("expected ErrSelfPact, got %v", err)
	}

	if _, err := env.Manager.Create(env.Ctx, lifecycle.CreateOptions{
		Initiator: "alice", Partner: "carol", CommitmentType: "daily_tasks",
	}); !errors.Is(err, lifecycle.ErrNotFriends) {
		t.Fatalf("expected ErrNotFriends, got %v", err)
	}

	var upe lifecycle.UnknownPartnerError
	_, err := env.Manager.Create(env.Ctx, lifecycle.CreateOptions{
		Initiator: "alice", Partner: "ghost", CommitmentType: "daily_tasks",
	})
	if !errors.As(err, &upe) || upe.UserID != "ghost" {
		t.Fatalf("expected UnknownPartnerError, got %v", err)
	}

	if _, err := env.Manager.Create(env.Ctx, lifecycle.CreateOptions{
		Initiator: "alice", Partner: "bob", CommitmentType: "custom",
	}); err == nil {
		t.Fatalf("expected description requirement for custom")
	}
}

func TestCreateDefaultsTarget(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	if p.Status != domain.StatusPendingAcceptance {
		t.Fatalf("status: %s", p.Status)
	}
	if p.TargetValue != 3 {
		t.Fatalf("expected daily_tasks default target, got %d", p.TargetValue)
	}
	if p.LastEvaluatedDate != "" {
		t.Fatalf("pending pact must not have an evaluation anchor")
	}
}

func TestRespondAcceptArmsEvaluation(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	accepted, err := env.Manager.Respond(env.Ctx, p.ID, "bob", true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != domain.StatusActive {
		t.Fatalf("status: %s", accepted.Status)
	}
	if accepted.RespondedAt == nil {
		t.Fatalf("responded_at not set")
	}
	// At the fixed instant both participants are on 2026-03-10 local, so
	// today is the first evaluable day.
	if accepted.LastEvaluatedDate != "2026-03-09" {
		t.Fatalf("last evaluated: %s", accepted.LastEvaluatedDate)
	}
}

func TestRespondAcceptTimezoneSkew(t *testing.T) {
	env := newTestEnv(t)
	// At 02:00 UTC alice (Tokyo) is already on 03-10 while bob (LA) is
	// still on 03-09; the anchor follows the calendar furthest behind.
	env.Manager.Now = func() time.Time { return time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC) }
	p := env.createPact(t)
	accepted, err := env.Manager.Respond(env.Ctx, p.ID, "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if accepted.LastEvaluatedDate != "2026-03-08" {
		t.Fatalf("last evaluated: %s", accepted.LastEvaluatedDate)
	}
}

func TestRespondDecline(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	declined, err := env.Manager.Respond(env.Ctx, p.ID, "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if declined.Status != domain.StatusDeclined {
		t.Fatalf("status: %s", declined.Status)
	}
	// Terminal: no second response.
	_, err = env.Manager.Respond(env.Ctx, p.ID, "bob", true)
	if lifecycle.ConflictCode(err) != lifecycle.CodeAlreadyResponded {
		t.Fatalf("expected already_responded, got %v", err)
	}
}

func TestRespondOnlyInvitedPartner(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	_, err := env.Manager.Respond(env.Ctx, p.ID, "alice", true)
	if lifecycle.ConflictCode(err) != lifecycle.CodeNotInvited {
		t.Fatalf("expected not_invited, got %v", err)
	}
}

func TestRespondExpiredInvitation(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	env.Manager.Now = func() time.Time { return fixedNow.Add(8 * 24 * time.Hour) }
	_, err := env.Manager.Respond(env.Ctx, p.ID, "bob", true)
	if lifecycle.ConflictCode(err) != lifecycle.CodeInvitationExpired {
		t.Fatalf("expected invitation_expired, got %v", err)
	}
	got, err := env.Repo.GetPact(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusDeclined {
		t.Fatalf("expired invitation should auto-decline, got %s", got.Status)
	}
}

func TestCancelInitiatorOnly(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	if _, err := env.Manager.Cancel(env.Ctx, p.ID, "bob"); err == nil {
		t.Fatalf("expected cancel rejection for non-initiator")
	}
	cancelled, err := env.Manager.Cancel(env.Ctx, p.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.StatusDeclined {
		t.Fatalf("status: %s", cancelled.Status)
	}
}

func TestEnd(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	if _, err := env.Manager.End(env.Ctx, p.ID, "alice", true); lifecycle.ConflictCode(err) != lifecycle.CodePactInactive {
		t.Fatalf("expected pact_inactive for pending pact, got %v", err)
	}
	if _, err := env.Manager.Respond(env.Ctx, p.ID, "bob", true); err != nil {
		t.Fatal(err)
	}
	ended, err := env.Manager.End(env.Ctx, p.ID, "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if ended.Status != domain.StatusEndedUnilaterally || ended.EndedAt == nil {
		t.Fatalf("end: %+v", ended)
	}
	if _, err := env.Manager.End(env.Ctx, p.ID, "alice", true); lifecycle.ConflictCode(err) != lifecycle.CodePactInactive {
		t.Fatalf("expected pact_inactive after end, got %v", err)
	}
}

func TestEndMutual(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	if _, err := env.Manager.Respond(env.Ctx, p.ID, "bob", true); err != nil {
		t.Fatal(err)
	}
	ended, err := env.Manager.End(env.Ctx, p.ID, "alice", true)
	if err != nil {
		t.Fatal(err)
	}
	if ended.Status != domain.StatusEndedMutually {
		t.Fatalf("status: %s", ended.Status)
	}
}

func TestLifecycleEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	p := env.createPact(t)
	if _, err := env.Manager.Respond(env.Ctx, p.ID, "bob", true); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Manager.End(env.Ctx, p.ID, "alice", true); err != nil {
		t.Fatal(err)
	}
	events, err := env.Repo.LatestEvents(env.Ctx, 10, p.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected invited+accepted+ended, got %d", len(events))
	}
	if events[0].Type != domain.EventPactEnded || events[2].Type != domain.EventPactInvited {
		t.Fatalf("unexpected order: %s .. %s", events[0].Type, events[2].Type)
	}
}
