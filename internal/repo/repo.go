package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pactline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleEvaluation signals that a compare-and-swap on
// last_evaluated_date lost to a concurrent writer. The evaluation engine
// treats it as a fatal per-pact conflict, never retries it blindly.
var ErrStaleEvaluation = errors.New("stale evaluation state")

const pactColumns = `id,participant_a,participant_b,commitment_type,target_value,custom_description,status,streak_count,longest_streak,strike_count,created_at,responded_at,ended_at,last_evaluated_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPact(row rowScanner) (domain.Pact, error) {
	var p domain.Pact
	var custom, responded, ended sql.NullString
	err := row.Scan(&p.ID, &p.ParticipantA, &p.ParticipantB, &p.CommitmentType, &p.TargetValue, &custom,
		&p.Status, &p.StreakCount, &p.LongestStreak, &p.StrikeCount, &p.CreatedAt, &responded, &ended, &p.LastEvaluatedDate)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if custom.Valid {
		p.CustomDescription = custom.String
	}
	if responded.Valid {
		p.RespondedAt = &responded.String
	}
	if ended.Valid {
		p.EndedAt = &ended.String
	}
	return p, nil
}

func (r Repo) InsertPact(ctx context.Context, tx *sql.Tx, p domain.Pact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pacts(`+pactColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ParticipantA, p.ParticipantB, p.CommitmentType, p.TargetValue, nullable(p.CustomDescription),
		p.Status, p.StreakCount, p.LongestStreak, p.StrikeCount, p.CreatedAt,
		nullableStringPtr(p.RespondedAt), nullableStringPtr(p.EndedAt), p.LastEvaluatedDate)
	return err
}

func (r Repo) GetPact(ctx context.Context, id string) (domain.Pact, error) {
	return scanPact(r.DB.QueryRowContext(ctx, `SELECT `+pactColumns+` FROM pacts WHERE id=?`, id))
}

func (r Repo) GetPactTx(ctx context.Context, tx *sql.Tx, id string) (domain.Pact, error) {
	return scanPact(tx.QueryRowContext(ctx, `SELECT `+pactColumns+` FROM pacts WHERE id=?`, id))
}

// UpdatePactStatus rewrites lifecycle fields. Streak fields go through
// AdvanceEvaluation instead so the ledger invariants stay in one place.
func (r Repo) UpdatePactStatus(ctx context.Context, tx *sql.Tx, p domain.Pact) error {
	res, err := tx.ExecContext(ctx, `UPDATE pacts SET status=?, responded_at=?, ended_at=?, last_evaluated_date=? WHERE id=?`,
		p.Status, nullableStringPtr(p.RespondedAt), nullableStringPtr(p.EndedAt), p.LastEvaluatedDate, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceEvaluation commits one settled date for a pact: streak counters,
// strike count, optional terminal status, and the new
// last_evaluated_date. The WHERE clause compares the previous
// last_evaluated_date so two workers can never both apply the same date.
func (r Repo) AdvanceEvaluation(ctx context.Context, tx *sql.Tx, p domain.Pact, prevEvaluatedDate string) error {
	res, err := tx.ExecContext(ctx, `UPDATE pacts SET streak_count=?, longest_streak=?, strike_count=?, status=?, ended_at=?, last_evaluated_date=? WHERE id=? AND last_evaluated_date=?`,
		p.StreakCount, p.LongestStreak, p.StrikeCount, p.Status, nullableStringPtr(p.EndedAt), p.LastEvaluatedDate,
		p.ID, prevEvaluatedDate)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleEvaluation
	}
	return nil
}

type PactFilters struct {
	ParticipantID string
	Status        string
	Limit         int
	CursorCreated string
	CursorID      string
}

func (r Repo) ListPacts(ctx context.Context, f PactFilters) ([]domain.Pact, error) {
	var clauses []string
	var args []any
	if f.ParticipantID != "" {
		clauses = append(clauses, "(participant_a=? OR participant_b=?)")
		args = append(args, f.ParticipantID, f.ParticipantID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreated != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreated, f.CursorCreated, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + pactColumns + ` FROM pacts ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pact
	for rows.Next() {
		p, err := scanPact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ActivePactIDs returns the ids of every pact the evaluation sweep should
// visit, oldest first for fairness.
func (r Repo) ActivePactIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM pacts WHERE status=? ORDER BY created_at ASC, id ASC`, domain.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
