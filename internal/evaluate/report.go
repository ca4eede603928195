package evaluate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pactline/internal/catalog"
	"pactline/internal/dates"
	"pactline/internal/domain"
	"pactline/internal/events"
	"pactline/internal/repo"
)

// Report ingests one telemetry sample and immediately re-evaluates the
// reporter's active pacts of that commitment type, so a pact settles as
// soon as the last missing number arrives instead of waiting for the
// next sweep.
func (e *Engine) Report(ctx context.Context, userID, commitmentType, date string, value int) (domain.ProgressReport, error) {
	ctype, err := catalog.Parse(commitmentType)
	if err != nil {
		return domain.ProgressReport{}, err
	}
	if !dates.Valid(date) {
		return domain.ProgressReport{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	if value < 0 {
		return domain.ProgressReport{}, fmt.Errorf("progress value must not be negative")
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ProgressReport{}, fmt.Errorf("unknown user %s", userID)
		}
		return domain.ProgressReport{}, err
	}

	rep := domain.ProgressReport{
		UserID:         userID,
		CommitmentType: ctype,
		Date:           date,
		ProgressValue:  value,
		RecordedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO progress_reports(user_id,commitment_type,date,progress_value,recorded_at) VALUES (?,?,?,?,?)
ON CONFLICT(user_id,commitment_type,date) DO UPDATE SET progress_value=excluded.progress_value, recorded_at=excluded.recorded_at`,
		rep.UserID, rep.CommitmentType, rep.Date, rep.ProgressValue, rep.RecordedAt); err != nil {
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, domain.EventProgressReported, "", "report", userID, userID, events.EventPayload{
		"commitment_type": ctype,
		"date":            date,
		"value":           value,
	}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}

	if err := e.evaluateUserPacts(ctx, userID, ctype); err != nil {
		// The report is durable; the next sweep will catch up.
		e.Logger.Error("post-report evaluation failed", "user_id", userID, "error", err)
	}
	return rep, nil
}

func (e *Engine) evaluateUserPacts(ctx context.Context, userID, commitmentType string) error {
	pacts, err := e.Repo.ListPacts(ctx, repo.PactFilters{
		ParticipantID: userID,
		Status:        domain.StatusActive,
	})
	if err != nil {
		return err
	}
	for _, p := range pacts {
		if p.CommitmentType != commitmentType {
			continue
		}
		if err := e.EvaluatePact(ctx, p.ID); err != nil {
			e.Logger.Error("pact evaluation failed", "pact_id", p.ID, "error", err)
		}
	}
	return nil
}
