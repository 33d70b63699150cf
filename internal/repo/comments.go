package repo

import (
	"context"
	"database/sql"

	"cleanline/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO comments(id,task_id,author_id,content,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, c.Content, c.CreatedAt)
	return err
}

// ListComments returns a task's comments newest first, authors hydrated.
func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT c.id,c.task_id,c.author_id,c.content,c.created_at,u.username,u.points
FROM comments c JOIN users u ON u.id=c.author_id
WHERE c.task_id=? ORDER BY c.created_at DESC, c.id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var author domain.PublicUser
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt, &author.Username, &author.Points); err != nil {
			return nil, err
		}
		c.Author = &author
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	var c domain.Comment
	err := r.DB.QueryRowContext(ctx, `SELECT id,task_id,author_id,content,created_at FROM comments WHERE id=?`, id).
		Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Content, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// InsertLike is idempotent per (task, user).
func (r Repo) InsertLike(ctx context.Context, l domain.Like) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO likes(id,task_id,user_id) VALUES (?,?,?)`,
		l.ID, l.TaskID, l.UserID)
	return err
}

func (r Repo) DeleteLike(ctx context.Context, taskID, userID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM likes WHERE task_id=? AND user_id=?`, taskID, userID)
	return err
}

func (r Repo) ListLikes(ctx context.Context, taskID string) ([]domain.Like, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id FROM likes WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Like
	for rows.Next() {
		var l domain.Like
		if err := rows.Scan(&l.ID, &l.TaskID, &l.UserID); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
