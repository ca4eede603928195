// Package lifecycle owns the pact state machine: creation handshake,
// acceptance, cancellation, and termination. All mutation of pact rows
// outside daily evaluation goes through the Manager, which is what keeps
// both participants' views converging on one authoritative record.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pactline/internal/catalog"
	"pactline/internal/config"
	"pactline/internal/dates"
	"pactline/internal/domain"
	"pactline/internal/events"
	"pactline/internal/notify"
	"pactline/internal/repo"
)

// Directory resolves partner identities; consumed as a black box.
type Directory interface {
	ResolvePartner(ctx context.Context, userID string) (domain.UserProfile, error)
}

// RepoDirectory serves the directory from the local users table.
type RepoDirectory struct {
	Repo repo.Repo
}

func (d RepoDirectory) ResolvePartner(ctx context.Context, userID string) (domain.UserProfile, error) {
	u, err := d.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.UserProfile{}, UnknownPartnerError{UserID: userID}
	}
	return u, err
}

type Manager struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Directory Directory
	Notifier  notify.Dispatcher
	Config    *config.Config
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, dir Directory, notifier notify.Dispatcher) Manager {
	r := repo.Repo{DB: db}
	if dir == nil {
		dir = RepoDirectory{Repo: r}
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	return Manager{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Directory: dir,
		Notifier:  notifier,
		Config:    cfg,
		Now:       time.Now,
	}
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// CreateOptions are parameters for starting a pact handshake.
type CreateOptions struct {
	Initiator         string
	Partner           string
	CommitmentType    string
	TargetValue       int
	CustomDescription string
}

// Create persists a new pact in pending_acceptance and signals the
// invitation. Notification failure never fails creation.
func (m Manager) Create(ctx context.Context, opts CreateOptions) (domain.Pact, error) {
	if m.Config == nil {
		return domain.Pact{}, errors.New("config not loaded")
	}
	ctype, err := catalog.Parse(opts.CommitmentType)
	if err != nil {
		return domain.Pact{}, err
	}
	if opts.TargetValue == 0 {
		opts.TargetValue = catalog.DefaultTarget(ctype)
	}
	if err := catalog.Validate(ctype, opts.TargetValue, opts.CustomDescription); err != nil {
		return domain.Pact{}, err
	}
	if opts.Initiator == "" {
		return domain.Pact{}, errors.New("initiator is required")
	}
	if opts.Initiator == opts.Partner {
		return domain.Pact{}, ErrSelfPact
	}
	if _, err := m.Directory.ResolvePartner(ctx, opts.Partner); err != nil {
		return domain.Pact{}, err
	}
	if _, err := m.Repo.GetUser(ctx, opts.Initiator); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Pact{}, fmt.Errorf("initiator %s not registered", opts.Initiator)
		}
		return domain.Pact{}, err
	}
	friends, err := m.Repo.AreFriends(ctx, opts.Initiator, opts.Partner)
	if err != nil {
		return domain.Pact{}, err
	}
	if !friends {
		return domain.Pact{}, ErrNotFriends
	}

	now := m.now().UTC().Format(time.RFC3339)
	p := domain.Pact{
		ID:                uuid.New().String(),
		ParticipantA:      opts.Initiator,
		ParticipantB:      opts.Partner,
		CommitmentType:    ctype,
		TargetValue:       opts.TargetValue,
		CustomDescription: opts.CustomDescription,
		Status:            domain.StatusPendingAcceptance,
		CreatedAt:         now,
	}
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Pact{}, err
	}
	defer tx.Rollback()
	if err := m.Repo.InsertPact(ctx, tx, p); err != nil {
		return domain.Pact{}, fmt.Errorf("insert pact: %w", err)
	}
	if err := m.Events.Append(ctx, tx, domain.EventPactInvited, p.ID, "pact", p.ID, opts.Initiator, events.EventPayload{
		"partner":         p.ParticipantB,
		"commitment_type": p.CommitmentType,
		"target":          p.TargetValue,
	}); err != nil {
		return domain.Pact{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Pact{}, err
	}
	m.Notifier.Notify(ctx, notify.Event{
		Type:    domain.EventPactInvited,
		PactID:  p.ID,
		ActorID: opts.Initiator,
		Payload: map[string]any{"partner": p.ParticipantB},
	})
	return p, nil
}

// Respond records the invited partner's answer. Accepting activates the
// pact and arms evaluation so that today is the first evaluable day for
// both participants.
func (m Manager) Respond(ctx context.Context, pactID, responder string, accept bool) (domain.Pact, error) {
	p, err := m.Repo.GetPact(ctx, pactID)
	if err != nil {
		return p, err
	}
	if p.Status != domain.StatusPendingAcceptance {
		return p, ConflictError{Code: CodeAlreadyResponded, Pact: p}
	}
	if responder != p.ParticipantB {
		return p, ConflictError{Code: CodeNotInvited, Pact: p}
	}
	now := m.now()
	if expired, err := m.invitationExpired(p, now); err != nil {
		return p, err
	} else if expired {
		declined, derr := m.autoDecline(ctx, p, now)
		if derr != nil {
			return p, derr
		}
		return declined, ConflictError{Code: CodeInvitationExpired, Pact: declined}
	}

	nowStr := now.UTC().Format(time.RFC3339)
	p.RespondedAt = &nowStr
	evtType := domain.EventPactDeclined
	if accept {
		p.Status = domain.StatusActive
		evtType = domain.EventPactAccepted
		last, err := m.initialEvaluatedDate(ctx, p, now)
		if err != nil {
			return p, err
		}
		p.LastEvaluatedDate = last
	} else {
		p.Status = domain.StatusDeclined
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := m.Repo.UpdatePactStatus(ctx, tx, p); err != nil {
		return p, err
	}
	if err := m.Events.Append(ctx, tx, evtType, p.ID, "pact", p.ID, responder, events.EventPayload{"status": p.Status}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	m.Notifier.Notify(ctx, notify.Event{Type: evtType, PactID: p.ID, ActorID: responder})
	return p, nil
}

// Cancel withdraws a pending invitation; only the initiator may do it.
func (m Manager) Cancel(ctx context.Context, pactID, requester string) (domain.Pact, error) {
	p, err := m.Repo.GetPact(ctx, pactID)
	if err != nil {
		return p, err
	}
	if p.Status != domain.StatusPendingAcceptance {
		return p, ConflictError{Code: CodeAlreadyResponded, Pact: p}
	}
	if requester != p.ParticipantA {
		return p, fmt.Errorf("only the initiator may cancel an invitation")
	}
	nowStr := m.now().UTC().Format(time.RFC3339)
	p.Status = domain.StatusDeclined
	p.RespondedAt = &nowStr

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := m.Repo.UpdatePactStatus(ctx, tx, p); err != nil {
		return p, err
	}
	if err := m.Events.Append(ctx, tx, domain.EventPactCancelled, p.ID, "pact", p.ID, requester, events.EventPayload{}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	m.Notifier.Notify(ctx, notify.Event{Type: domain.EventPactCancelled, PactID: p.ID, ActorID: requester})
	return p, nil
}

// End terminates an active pact. No further ledger writes or evaluation
// happen for a terminated pact.
func (m Manager) End(ctx context.Context, pactID, requester string, mutual bool) (domain.Pact, error) {
	p, err := m.Repo.GetPact(ctx, pactID)
	if err != nil {
		return p, err
	}
	if p.Status != domain.StatusActive {
		return p, ConflictError{Code: CodePactInactive, Pact: p}
	}
	if p.Other(requester) == "" {
		return p, fmt.Errorf("user %s is not part of pact %s", requester, pactID)
	}
	nowStr := m.now().UTC().Format(time.RFC3339)
	if mutual {
		p.Status = domain.StatusEndedMutually
	} else {
		p.Status = domain.StatusEndedUnilaterally
	}
	p.EndedAt = &nowStr

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := m.Repo.UpdatePactStatus(ctx, tx, p); err != nil {
		return p, err
	}
	if err := m.Events.Append(ctx, tx, domain.EventPactEnded, p.ID, "pact", p.ID, requester, events.EventPayload{
		"status": p.Status,
		"mutual": mutual,
	}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	m.Notifier.Notify(ctx, notify.Event{Type: domain.EventPactEnded, PactID: p.ID, ActorID: requester})
	return p, nil
}

// CurrentState returns the authoritative snapshot of a pact.
func (m Manager) CurrentState(ctx context.Context, pactID string) (domain.Pact, error) {
	return m.Repo.GetPact(ctx, pactID)
}

// LedgerHistory returns ledger rows most-recent-first; cursor values
// come from the last row of the previous page.
func (m Manager) LedgerHistory(ctx context.Context, pactID string, limit int, cursorDate, cursorParticipant string) ([]domain.LedgerEntry, error) {
	if _, err := m.Repo.GetPact(ctx, pactID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}
	return m.Repo.ListLedger(ctx, repo.LedgerFilters{
		PactID:            pactID,
		Limit:             limit,
		CursorDate:        cursorDate,
		CursorParticipant: cursorParticipant,
	})
}

func (m Manager) invitationExpired(p domain.Pact, now time.Time) (bool, error) {
	created, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("pact %s created_at: %w", p.ID, err)
	}
	return now.After(created.Add(m.Config.InvitationTTL())), nil
}

func (m Manager) autoDecline(ctx context.Context, p domain.Pact, now time.Time) (domain.Pact, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	p.Status = domain.StatusDeclined
	p.RespondedAt = &nowStr
	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := m.Repo.UpdatePactStatus(ctx, tx, p); err != nil {
		return p, err
	}
	if err := m.Events.Append(ctx, tx, domain.EventPactDeclined, p.ID, "pact", p.ID, "system", events.EventPayload{"reason": "invitation_expired"}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// initialEvaluatedDate picks the evaluation starting point on accept:
// yesterday as seen by the participant whose local calendar is furthest
// behind, so neither side gets a day judged that had already started
// before the pact existed.
func (m Manager) initialEvaluatedDate(ctx context.Context, p domain.Pact, now time.Time) (string, error) {
	earliestToday := ""
	for _, id := range p.Participants() {
		u, err := m.Repo.GetUser(ctx, id)
		if err != nil {
			return "", fmt.Errorf("participant %s: %w", id, err)
		}
		loc, err := dates.Zone(u.Timezone)
		if err != nil {
			return "", err
		}
		today := dates.InZone(now, loc)
		if earliestToday == "" {
			earliestToday = today
		} else {
			earliestToday = dates.Min(earliestToday, today)
		}
	}
	return dates.Prev(earliestToday)
}
