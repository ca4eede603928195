// Package evaluate is the daily evaluation engine. It walks each active
// pact forward one settled calendar date at a time: a date counts for
// the shared streak only when both participants met their target, and a
// single miss breaks the streak for both.
package evaluate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"pactline/internal/config"
	"pactline/internal/dates"
	"pactline/internal/domain"
	"pactline/internal/events"
	"pactline/internal/notify"
	"pactline/internal/repo"
	"pactline/internal/telemetry"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Telemetry telemetry.Source
	Notifier  notify.Dispatcher
	Config    *config.Config
	Now       func() time.Time
	Logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB, cfg *config.Config, src telemetry.Source, notifier notify.Dispatcher, logger *slog.Logger) *Engine {
	r := repo.Repo{DB: db}
	if src == nil {
		src = telemetry.Store{Repo: r}
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		DB:        db,
		Repo:      r,
		Events:    events.Writer{DB: db},
		Telemetry: src,
		Notifier:  notifier,
		Config:    cfg,
		Now:       time.Now,
		Logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// lockFor serializes evaluation of one pact within this process. Across
// processes the compare-and-swap in AdvanceEvaluation is the backstop.
func (e *Engine) lockFor(pactID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[pactID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[pactID] = l
	}
	return l
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Config.SweepInterval())
	defer ticker.Stop()
	for {
		if err := e.Sweep(ctx); err != nil {
			e.Logger.Error("evaluation sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep evaluates every active pact once, fanning out over a bounded
// worker pool. Per-pact failures are logged and do not stop the sweep.
func (e *Engine) Sweep(ctx context.Context) error {
	ids, err := e.Repo.ActivePactIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active pacts: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	workers := e.Config.Evaluation.Workers
	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := e.EvaluatePact(ctx, id); err != nil {
					e.Logger.Error("pact evaluation failed", "pact_id", id, "error", err)
				}
			}
		}()
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()
	return nil
}

// EvaluatePact advances one pact through every date that is currently
// decidable. It stops at the first open date; later dates are never
// settled out of order.
func (e *Engine) EvaluatePact(ctx context.Context, pactID string) error {
	lock := e.lockFor(pactID)
	lock.Lock()
	defer lock.Unlock()

	for {
		p, err := e.Repo.GetPact(ctx, pactID)
		if err != nil {
			return err
		}
		if p.Status != domain.StatusActive {
			return nil
		}
		if p.LastEvaluatedDate == "" {
			return fmt.Errorf("pact %s: active without evaluation anchor", p.ID)
		}
		date, err := dates.Next(p.LastEvaluatedDate)
		if err != nil {
			return err
		}
		settled, err := e.settleDate(ctx, p, date)
		if err != nil {
			return err
		}
		if !settled {
			return nil
		}
	}
}

// outcome is one participant's judged day.
type outcome struct {
	userID  string
	value   int
	met     bool
	decided bool
}

// settleDate judges one calendar date for a pact. It returns false when
// the date is still open: either a participant's local day has not ended,
// or a below-target value may still rise before the grace deadline.
func (e *Engine) settleDate(ctx context.Context, p domain.Pact, date string) (bool, error) {
	now := e.now()
	var outcomes [2]outcome
	for i, userID := range p.Participants() {
		u, err := e.Repo.GetUser(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("participant %s: %w", userID, err)
		}
		loc, err := dates.Zone(u.Timezone)
		if err != nil {
			return false, err
		}
		if dates.InZone(now, loc) <= date {
			return false, nil
		}
		o, err := e.judge(ctx, p, userID, date, loc, now)
		if err != nil {
			return false, err
		}
		if !o.decided {
			return false, nil
		}
		outcomes[i] = o
	}
	if err := e.commitDate(ctx, p, date, outcomes); err != nil {
		return false, err
	}
	return true, nil
}

// judge decides one participant's day. A value at or above target settles
// immediately. A missing or below-target value stays provisional until
// the grace deadline, then settles as a miss with whatever was reported.
func (e *Engine) judge(ctx context.Context, p domain.Pact, userID, date string, loc *time.Location, now time.Time) (outcome, error) {
	dayEnd, err := dates.EndOfDay(date, loc)
	if err != nil {
		return outcome{}, err
	}
	deadline := dayEnd.Add(e.Config.Grace())

	fetchCtx, cancel := context.WithTimeout(ctx, e.Config.TelemetryTimeout())
	value, err := e.Telemetry.DailyProgress(fetchCtx, userID, p.CommitmentType, date)
	cancel()
	haveValue := err == nil
	if err != nil && !errors.Is(err, telemetry.ErrUnavailable) {
		// Transient source failure: indistinguishable from "not yet
		// reported", but past the deadline we still settle with nothing.
		e.Logger.Warn("telemetry fetch failed", "pact_id", p.ID, "user_id", userID, "date", date, "error", err)
	}

	o := outcome{userID: userID}
	switch {
	case haveValue && value >= p.TargetValue:
		o.value = value
		o.met = true
		o.decided = true
	case now.Before(deadline):
		// Progress may still sync up; leave the date open.
	default:
		if haveValue {
			o.value = value
		}
		o.decided = true
	}
	return o, nil
}

// commitDate applies one settled date atomically: both ledger rows, the
// streak counters, the audit events, and the last_evaluated_date advance
// land in a single transaction guarded by compare-and-swap.
func (e *Engine) commitDate(ctx context.Context, p domain.Pact, date string, outcomes [2]outcome) error {
	prev := p.LastEvaluatedDate
	qualified := outcomes[0].met && outcomes[1].met

	next := p
	next.LastEvaluatedDate = date
	if qualified {
		next.StreakCount++
		if next.StreakCount > next.LongestStreak {
			next.LongestStreak = next.StreakCount
		}
		next.StrikeCount = 0
	} else {
		next.StreakCount = 0
		next.StrikeCount++
	}
	maxStrikes := e.Config.Policy.MaxStrikes
	endedByStrikes := !qualified && maxStrikes > 0 && next.StrikeCount >= maxStrikes
	if endedByStrikes {
		next.Status = domain.StatusEndedUnilaterally
		endedAt := e.now().UTC().Format(time.RFC3339)
		next.EndedAt = &endedAt
	}

	commit := func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer tx.Rollback()

		recordedAt := e.now().UTC().Format(time.RFC3339)
		for _, o := range outcomes {
			entry := domain.LedgerEntry{
				PactID:        p.ID,
				ParticipantID: o.userID,
				Date:          date,
				ProgressValue: o.value,
				MetTarget:     o.met,
				RecordedAt:    recordedAt,
			}
			if err := e.Repo.UpsertLedgerEntry(ctx, tx, entry); err != nil {
				return retry.RetryableError(err)
			}
		}

		evtType := domain.EventStreakBroken
		payload := events.EventPayload{
			"date":         date,
			"streak_count": next.StreakCount,
		}
		if qualified {
			evtType = domain.EventStreakAdvanced
			payload["longest_streak"] = next.LongestStreak
		} else {
			var missed []string
			for _, o := range outcomes {
				if !o.met {
					missed = append(missed, o.userID)
				}
			}
			payload["missed_by"] = missed
		}
		if err := e.Events.Append(ctx, tx, evtType, p.ID, "pact", p.ID, "system", payload); err != nil {
			return retry.RetryableError(err)
		}
		if endedByStrikes {
			if err := e.Events.Append(ctx, tx, domain.EventPactEnded, p.ID, "pact", p.ID, "system", events.EventPayload{
				"status": next.Status,
				"reason": "max_strikes",
			}); err != nil {
				return retry.RetryableError(err)
			}
		}
		if err := e.Repo.AdvanceEvaluation(ctx, tx, next, prev); err != nil {
			if errors.Is(err, repo.ErrStaleEvaluation) {
				return err
			}
			return retry.RetryableError(err)
		}
		if err := tx.Commit(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}

	backoff := retry.WithMaxRetries(
		uint64(e.Config.Evaluation.Retry.Attempts),
		retry.NewExponential(time.Duration(e.Config.Evaluation.Retry.BaseDelayMS)*time.Millisecond),
	)
	if err := retry.Do(ctx, backoff, commit); err != nil {
		return fmt.Errorf("settle %s for pact %s: %w", date, p.ID, err)
	}

	evtType := domain.EventStreakAdvanced
	if !qualified {
		evtType = domain.EventStreakBroken
	}
	e.Notifier.Notify(ctx, notify.Event{
		Type:   evtType,
		PactID: p.ID,
		Payload: map[string]any{
			"date":         date,
			"streak_count": next.StreakCount,
		},
	})
	if endedByStrikes {
		e.Notifier.Notify(ctx, notify.Event{Type: domain.EventPactEnded, PactID: p.ID, ActorID: "system"})
	}
	return nil
}
