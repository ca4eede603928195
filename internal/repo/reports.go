package repo

import (
	"context"
	"database/sql"

	"pactline/internal/domain"
)

// UpsertProgressReport stores the latest telemetry sample for a
// user/commitment/date. Later reports for the same day replace earlier
// ones, so a client can report incrementally while the day is open.
func (r Repo) UpsertProgressReport(ctx context.Context, p domain.ProgressReport) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO progress_reports(user_id,commitment_type,date,progress_value,recorded_at) VALUES (?,?,?,?,?)
ON CONFLICT(user_id,commitment_type,date) DO UPDATE SET progress_value=excluded.progress_value, recorded_at=excluded.recorded_at`,
		p.UserID, p.CommitmentType, p.Date, p.ProgressValue, p.RecordedAt)
	return err
}

func (r Repo) GetProgressReport(ctx context.Context, userID, commitmentType, date string) (domain.ProgressReport, error) {
	var p domain.ProgressReport
	err := r.DB.QueryRowContext(ctx,
		`SELECT user_id,commitment_type,date,progress_value,recorded_at FROM progress_reports WHERE user_id=? AND commitment_type=? AND date=?`,
		userID, commitmentType, date).
		Scan(&p.UserID, &p.CommitmentType, &p.Date, &p.ProgressValue, &p.RecordedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}
