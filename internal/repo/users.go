package repo

import (
	"context"
	"database/sql"

	"pactline/internal/domain"
)

func (r Repo) UpsertUser(ctx context.Context, u domain.UserProfile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,display_name,timezone,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, timezone=excluded.timezone`,
		u.ID, nullable(u.DisplayName), u.Timezone, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.UserProfile, error) {
	var u domain.UserProfile
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,display_name,timezone,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &name, &u.Timezone, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if name.Valid {
		u.DisplayName = name.String
	}
	return u, nil
}

// AddFriendship records the link in both directions so lookups never
// depend on who befriended whom.
func (r Repo) AddFriendship(ctx context.Context, userID, friendID, createdAt string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, pair := range [][2]string{{userID, friendID}, {friendID, userID}} {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO friendships(user_id,friend_id,created_at) VALUES (?,?,?)`,
			pair[0], pair[1], createdAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) AreFriends(ctx context.Context, userID, friendID string) (bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT 1 FROM friendships WHERE user_id=? AND friend_id=? LIMIT 1`, userID, friendID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (r Repo) ListFriends(ctx context.Context, userID string) ([]domain.UserProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.id,u.display_name,u.timezone,u.created_at FROM friendships f
JOIN users u ON u.id=f.friend_id WHERE f.user_id=? ORDER BY u.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UserProfile
	for rows.Next() {
		var u domain.UserProfile
		var name sql.NullString
		if err := rows.Scan(&u.ID, &name, &u.Timezone, &u.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			u.DisplayName = name.String
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
