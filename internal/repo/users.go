package repo

import (
	"context"
	"database/sql"

	"cleanline/internal/domain"
)

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Points, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,username,email,password_hash,points,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Points, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,username,email,password_hash,points,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,username,email,password_hash,points,created_at FROM users WHERE username=?`, username))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,username,email,password_hash,points,created_at FROM users WHERE email=?`, email))
}

// Leaderboard returns the top users ordered by points.
func (r Repo) Leaderboard(ctx context.Context, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username,email,password_hash,points,created_at FROM users ORDER BY points DESC, username ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserStats aggregates a user's authored and resolved task counts.
type UserStats struct {
	Created int
	Solved  int
}

func (r Repo) GetUserStats(ctx context.Context, userID string) (UserStats, error) {
	var s UserStats
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE author_id=?`, userID).Scan(&s.Created); err != nil {
		return s, err
	}
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE volunteer_id=? OR resolved_by_id=?`, userID, userID).Scan(&s.Solved)
	return s, err
}
