package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pactline/internal/domain"
)

func (r Repo) LatestEvents(ctx context.Context, limit int, pactID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, pactID, evtType)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, pactID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if pactID != "" {
		clauses = append(clauses, "pact_id=?")
		args = append(args, pactID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,pact_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// UserEvents returns events that concern a user: anything they acted on
// plus every event of a pact they participate in.
func (r Repo) UserEvents(ctx context.Context, userID string, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := "(actor_id=? OR pact_id IN (SELECT id FROM pacts WHERE participant_a=? OR participant_b=?))"
	args := []any{userID, userID, userID}
	if cursor > 0 {
		clauses += " AND id<?"
		args = append(args, cursor)
	}
	args = append(args, limit)
	return r.queryEvents(ctx, `SELECT id,ts,type,pact_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE `+clauses+` ORDER BY id DESC LIMIT ?`, args...)
}

// EventsAfter returns events with IDs greater than the cursor in
// ascending order; the webhook dispatcher tails the log with it.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,pact_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var pactID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &pactID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if pactID.Valid {
			e.PactID = pactID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
