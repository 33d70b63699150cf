package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"cleanline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStale signals a guarded update whose status precondition no longer held
// when the write ran. The caller lost a concurrent transition race.
var ErrStale = errors.New("stale update")

const taskColumns = `id,author_id,image_url,image_public_id,caption,latitude,longitude,predicted_class,points,verified_points,status,volunteer_id,resolved_by_id,start_image_url,end_image_url,proof_image_url,started_at,ended_at,cleanup_duration_minutes,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var imagePublicID, caption, predictedClass sql.NullString
	var volunteerID, resolvedByID, startImage, endImage, proofImage sql.NullString
	var startedAt, endedAt sql.NullString
	var lat, lon sql.NullFloat64
	var verifiedPoints, duration sql.NullInt64
	err := row.Scan(&t.ID, &t.AuthorID, &t.ImageURL, &imagePublicID, &caption, &lat, &lon,
		&predictedClass, &t.Points, &verifiedPoints, &t.Status, &volunteerID, &resolvedByID,
		&startImage, &endImage, &proofImage, &startedAt, &endedAt, &duration,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if imagePublicID.Valid {
		t.ImagePublicID = imagePublicID.String
	}
	if caption.Valid {
		t.Caption = caption.String
	}
	if predictedClass.Valid {
		t.PredictedClass = predictedClass.String
	}
	if lat.Valid {
		t.Latitude = &lat.Float64
	}
	if lon.Valid {
		t.Longitude = &lon.Float64
	}
	if verifiedPoints.Valid {
		v := int(verifiedPoints.Int64)
		t.VerifiedPoints = &v
	}
	if volunteerID.Valid {
		t.VolunteerID = &volunteerID.String
	}
	if resolvedByID.Valid {
		t.ResolvedByID = &resolvedByID.String
	}
	if startImage.Valid {
		t.StartImageURL = &startImage.String
	}
	if endImage.Valid {
		t.EndImageURL = &endImage.String
	}
	if proofImage.Valid {
		t.ProofImageURL = &proofImage.String
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.String
	}
	if endedAt.Valid {
		t.EndedAt = &endedAt.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		t.CleanupDurationMinutes = &d
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.AuthorID, t.ImageURL, nullable(t.ImagePublicID), nullable(t.Caption),
		nullableFloatPtr(t.Latitude), nullableFloatPtr(t.Longitude),
		nullable(t.PredictedClass), t.Points, nullableIntPtr(t.VerifiedPoints),
		t.Status, nullableStringPtr(t.VolunteerID), nullableStringPtr(t.ResolvedByID),
		nullableStringPtr(t.StartImageURL), nullableStringPtr(t.EndImageURL), nullableStringPtr(t.ProofImageURL),
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.EndedAt), nullableIntPtr(t.CleanupDurationMinutes),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// UpdateTaskGuarded writes every mutable task column, but only if the row is
// still in fromStatus. A zero-row update returns ErrStale so concurrent
// conflicting transitions resolve to exactly one winner.
func (r Repo) UpdateTaskGuarded(ctx context.Context, tx *sql.Tx, t domain.Task, fromStatus string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET caption=?, predicted_class=?, points=?, verified_points=?, status=?,
volunteer_id=?, resolved_by_id=?, start_image_url=?, end_image_url=?, proof_image_url=?,
started_at=?, ended_at=?, cleanup_duration_minutes=?, updated_at=?
WHERE id=? AND status=?`,
		nullable(t.Caption), nullable(t.PredictedClass), t.Points, nullableIntPtr(t.VerifiedPoints), t.Status,
		nullableStringPtr(t.VolunteerID), nullableStringPtr(t.ResolvedByID),
		nullableStringPtr(t.StartImageURL), nullableStringPtr(t.EndImageURL), nullableStringPtr(t.ProofImageURL),
		nullableStringPtr(t.StartedAt), nullableStringPtr(t.EndedAt), nullableIntPtr(t.CleanupDurationMinutes),
		t.UpdatedAt, t.ID, fromStatus)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// SetClassification writes the creation-pass oracle result. Missing rows are
// reported as ErrNotFound; the annotator skips those silently.
func (r Repo) SetClassification(ctx context.Context, taskID, predictedClass string, points int, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET predicted_class=?, points=?, updated_at=? WHERE id=?`,
		predictedClass, points, updatedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVerifiedPoints writes the start-work verification pass result. Advisory
// only: never touches status or points.
func (r Repo) SetVerifiedPoints(ctx context.Context, taskID string, verifiedPoints int, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET verified_points=?, updated_at=? WHERE id=?`,
		verifiedPoints, updatedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Status        string
	ExcludeStatus string
	AuthorID      string
	VolunteerID   string
	ResolvedByID  string
	Limit         int
	Offset        int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ExcludeStatus != "" {
		clauses = append(clauses, "status!=?")
		args = append(args, f.ExcludeStatus)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	if f.VolunteerID != "" {
		clauses = append(clauses, "volunteer_id=?")
		args = append(args, f.VolunteerID)
	}
	if f.ResolvedByID != "" {
		clauses = append(clauses, "resolved_by_id=?")
		args = append(args, f.ResolvedByID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// HydrateTask resolves author, volunteer, comments (with authors) and likes
// in one logical fetch so callers never observe a partial task.
func (r Repo) HydrateTask(ctx context.Context, t *domain.Task) error {
	author, err := r.GetUser(ctx, t.AuthorID)
	if err != nil {
		return err
	}
	pub := author.Public()
	t.Author = &pub
	if t.VolunteerID != nil {
		v, err := r.GetUser(ctx, *t.VolunteerID)
		if err != nil {
			return err
		}
		vpub := v.Public()
		t.Volunteer = &vpub
	}
	comments, err := r.ListComments(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Comments = comments
	likes, err := r.ListLikes(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Likes = likes
	if t.Comments == nil {
		t.Comments = []domain.Comment{}
	}
	if t.Likes == nil {
		t.Likes = []domain.Like{}
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
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

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
