package repo

import (
	"context"
	"database/sql"
	"strings"

	"pactline/internal/domain"
)

// UpsertLedgerEntry writes one participant-day row keyed on
// (pact_id, participant_id, date). Re-evaluation overwrites the previous
// row, which is what makes the sweep idempotent.
func (r Repo) UpsertLedgerEntry(ctx context.Context, tx *sql.Tx, e domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pact_ledger_entries(pact_id,participant_id,date,progress_value,met_target,recorded_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(pact_id,participant_id,date) DO UPDATE SET progress_value=excluded.progress_value, met_target=excluded.met_target, recorded_at=excluded.recorded_at`,
		e.PactID, e.ParticipantID, e.Date, e.ProgressValue, boolInt(e.MetTarget), e.RecordedAt)
	return err
}

func (r Repo) GetLedgerEntry(ctx context.Context, pactID, participantID, date string) (domain.LedgerEntry, error) {
	return scanLedgerEntry(r.DB.QueryRowContext(ctx,
		`SELECT pact_id,participant_id,date,progress_value,met_target,recorded_at FROM pact_ledger_entries WHERE pact_id=? AND participant_id=? AND date=?`,
		pactID, participantID, date))
}

func (r Repo) GetLedgerEntryTx(ctx context.Context, tx *sql.Tx, pactID, participantID, date string) (domain.LedgerEntry, error) {
	return scanLedgerEntry(tx.QueryRowContext(ctx,
		`SELECT pact_id,participant_id,date,progress_value,met_target,recorded_at FROM pact_ledger_entries WHERE pact_id=? AND participant_id=? AND date=?`,
		pactID, participantID, date))
}

type LedgerFilters struct {
	PactID            string
	Limit             int
	CursorDate        string
	CursorParticipant string
}

// ListLedger returns ledger rows most-recent-first, restartable via the
// (date, participant) cursor of the last row seen.
func (r Repo) ListLedger(ctx context.Context, f LedgerFilters) ([]domain.LedgerEntry, error) {
	clauses := []string{"pact_id=?"}
	args := []any{f.PactID}
	if f.CursorDate != "" && f.CursorParticipant != "" {
		clauses = append(clauses, "(date < ? OR (date = ? AND participant_id < ?))")
		args = append(args, f.CursorDate, f.CursorDate, f.CursorParticipant)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT pact_id,participant_id,date,progress_value,met_target,recorded_at FROM pact_ledger_entries ` + where + ` ORDER BY date DESC, participant_id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanLedgerEntry(row rowScanner) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var met int
	err := row.Scan(&e.PactID, &e.ParticipantID, &e.Date, &e.ProgressValue, &met, &e.RecordedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.MetTarget = met != 0
	return e, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
