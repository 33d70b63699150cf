package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"cleanline/internal/db"
	"cleanline/internal/domain"
	"cleanline/internal/migrate"
	"cleanline/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedUser(t *testing.T, r repo.Repo, username string, points int) domain.User {
	t.Helper()
	u := domain.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     username + "@example.com",
		Points:    points,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
	if err := r.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}

func seedTask(t *testing.T, r repo.Repo, authorID, status string) domain.Task {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	task := domain.Task{
		ID:             uuid.New().String(),
		AuthorID:       authorID,
		ImageURL:       "https://img.example/litter.jpg",
		PredictedClass: domain.ClassPending,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.InsertTask(ctx, tx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return task
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func TestGuardedUpdateDetectsStaleStatus(t *testing.T) {
	r := newTestRepo(t)
	u := seedUser(t, r, "alice", 0)
	task := seedTask(t, r, u.ID, domain.StatusOpen)

	task.Status = domain.StatusInProgress
	if err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateTaskGuarded(context.Background(), tx, task, domain.StatusOpen)
	}); err != nil {
		t.Fatalf("first guarded update: %v", err)
	}

	// A second writer that still believes the task is open must lose.
	task.Status = domain.StatusPendingVerification
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateTaskGuarded(context.Background(), tx, task, domain.StatusOpen)
	})
	if !errors.Is(err, repo.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	got, err := r.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("loser must not overwrite, got %s", got.Status)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	u := seedUser(t, r, "alice", 0)
	task := seedTask(t, r, u.ID, domain.StatusOpen)

	if err := r.InsertComment(ctx, domain.Comment{
		ID: uuid.New().String(), TaskID: task.ID, AuthorID: u.ID,
		Content: "hello", CreatedAt: task.CreatedAt,
	}); err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	if err := r.InsertLike(ctx, domain.Like{ID: uuid.New().String(), TaskID: task.ID, UserID: u.ID}); err != nil {
		t.Fatalf("insert like: %v", err)
	}

	if err := r.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	comments, err := r.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	likes, err := r.ListLikes(ctx, task.ID)
	if err != nil {
		t.Fatalf("list likes: %v", err)
	}
	if len(comments) != 0 || len(likes) != 0 {
		t.Fatalf("expected cascade delete, got %d comments %d likes", len(comments), len(likes))
	}
	if err := r.DeleteTask(ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	r := newTestRepo(t)
	seedUser(t, r, "carol", 10)
	seedUser(t, r, "alice", 40)
	seedUser(t, r, "bob", 40)

	users, err := r.Leaderboard(context.Background(), 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(users))
	}
	// Points descending, username as the tiebreak.
	if users[0].Username != "alice" || users[1].Username != "bob" {
		t.Fatalf("unexpected order: %s, %s", users[0].Username, users[1].Username)
	}
}

func TestListTasksFilters(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	alice := seedUser(t, r, "alice", 0)
	bob := seedUser(t, r, "bob", 0)
	open := seedTask(t, r, alice.ID, domain.StatusOpen)
	seedTask(t, r, bob.ID, domain.StatusCompleted)

	byStatus, err := r.ListTasks(ctx, repo.TaskFilters{Status: domain.StatusOpen})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != open.ID {
		t.Fatalf("status filter: got %d rows", len(byStatus))
	}

	excl, err := r.ListTasks(ctx, repo.TaskFilters{ExcludeStatus: domain.StatusCompleted})
	if err != nil {
		t.Fatalf("list excluding: %v", err)
	}
	if len(excl) != 1 || excl[0].ID != open.ID {
		t.Fatalf("exclude filter: got %d rows", len(excl))
	}

	byAuthor, err := r.ListTasks(ctx, repo.TaskFilters{AuthorID: bob.ID})
	if err != nil {
		t.Fatalf("list by author: %v", err)
	}
	if len(byAuthor) != 1 || byAuthor[0].AuthorID != bob.ID {
		t.Fatalf("author filter: got %d rows", len(byAuthor))
	}
}

func TestUserStatsCountsBothClaimKinds(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	alice := seedUser(t, r, "alice", 0)
	bob := seedUser(t, r, "bob", 0)

	claimed := seedTask(t, r, alice.ID, domain.StatusInProgress)
	claimed.VolunteerID = &bob.ID
	if err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateTaskGuarded(ctx, tx, claimed, domain.StatusInProgress)
	}); err != nil {
		t.Fatalf("set volunteer: %v", err)
	}

	resolved := seedTask(t, r, alice.ID, domain.StatusPendingVerification)
	resolved.ResolvedByID = &bob.ID
	if err := inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateTaskGuarded(ctx, tx, resolved, domain.StatusPendingVerification)
	}); err != nil {
		t.Fatalf("set resolver: %v", err)
	}

	stats, err := r.GetUserStats(ctx, bob.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Created != 0 || stats.Solved != 2 {
		t.Fatalf("expected 0 created / 2 solved, got %d/%d", stats.Created, stats.Solved)
	}
	stats, err = r.GetUserStats(ctx, alice.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Created != 2 {
		t.Fatalf("expected alice created 2, got %d", stats.Created)
	}
}
