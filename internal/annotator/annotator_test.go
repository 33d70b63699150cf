package annotator_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"

	"cleanline/internal/annotator"
	"cleanline/internal/db"
	"cleanline/internal/domain"
	"cleanline/internal/migrate"
	"cleanline/internal/oracle"
	"cleanline/internal/repo"
)

type stubClassifier struct {
	res oracle.Result
	err error
}

func (s stubClassifier) Classify(ctx context.Context, imageURL string) (oracle.Result, error) {
	return s.res, s.err
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedTask(t *testing.T, conn *sql.DB) domain.Task {
	t.Helper()
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	u := domain.User{ID: uuid.New().String(), Username: "alice", Email: "alice@example.com", CreatedAt: now}
	if err := r.InsertUser(ctx, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	task := domain.Task{
		ID:             uuid.New().String(),
		AuthorID:       u.ID,
		ImageURL:       "https://img.example/litter.jpg",
		PredictedClass: domain.ClassPending,
		Status:         domain.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := conn.BeginTx(ctx, nil)
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

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestClassifyJobWritesClassification(t *testing.T) {
	conn := newTestDB(t)
	task := seedTask(t, conn)
	ann := annotator.New(conn, stubClassifier{res: oracle.Result{PredictedClass: "plastic", Points: 20}}, quietLogger())
	ann.Start()
	defer ann.Close()

	ann.Enqueue(annotator.Job{TaskID: task.ID, ImageURL: task.ImageURL, Purpose: annotator.PurposeClassify})
	ann.Wait()

	got, err := (repo.Repo{DB: conn}).GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.PredictedClass != "plastic" || got.Points != 20 {
		t.Fatalf("classification not written: class=%q points=%d", got.PredictedClass, got.Points)
	}
	if got.VerifiedPoints != nil {
		t.Fatalf("classify pass must not touch verified_points")
	}
	if got.Status != domain.StatusOpen {
		t.Fatalf("classify pass must not touch status, got %s", got.Status)
	}
}

func TestVerifyJobIsAdvisory(t *testing.T) {
	conn := newTestDB(t)
	task := seedTask(t, conn)
	ann := annotator.New(conn, stubClassifier{res: oracle.Result{PredictedClass: "glass", Points: 15}}, quietLogger())
	ann.Start()
	defer ann.Close()

	ann.Enqueue(annotator.Job{TaskID: task.ID, ImageURL: task.ImageURL, Purpose: annotator.PurposeVerify})
	ann.Wait()

	got, err := (repo.Repo{DB: conn}).GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.VerifiedPoints == nil || *got.VerifiedPoints != 15 {
		t.Fatalf("expected verified_points 15, got %+v", got.VerifiedPoints)
	}
	if got.PredictedClass != domain.ClassPending || got.Points != 0 {
		t.Fatalf("verify pass must not touch class or points: %q/%d", got.PredictedClass, got.Points)
	}
}

func TestOracleFailureWritesSentinel(t *testing.T) {
	conn := newTestDB(t)
	task := seedTask(t, conn)
	ann := annotator.New(conn, stubClassifier{err: errors.New("unreachable")}, quietLogger())
	ann.Start()
	defer ann.Close()

	ann.Enqueue(annotator.Job{TaskID: task.ID, ImageURL: task.ImageURL, Purpose: annotator.PurposeClassify})
	ann.Wait()

	got, err := (repo.Repo{DB: conn}).GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.PredictedClass != domain.ClassError || got.Points != 0 {
		t.Fatalf("expected sentinel, got %q/%d", got.PredictedClass, got.Points)
	}
}

func TestMissingTaskSkippedSilently(t *testing.T) {
	conn := newTestDB(t)
	ann := annotator.New(conn, stubClassifier{res: oracle.Result{PredictedClass: "metal", Points: 10}}, quietLogger())
	ann.Start()
	defer ann.Close()

	ann.Enqueue(annotator.Job{TaskID: uuid.New().String(), ImageURL: "https://img.example/x.jpg", Purpose: annotator.PurposeClassify})
	ann.Wait()
}

func TestReclassifyRequiresOpenTask(t *testing.T) {
	conn := newTestDB(t)
	task := seedTask(t, conn)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `UPDATE tasks SET status=? WHERE id=?`, domain.StatusCompleted, task.ID)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	ann := annotator.New(conn, stubClassifier{}, quietLogger())
	ann.Start()
	defer ann.Close()

	if err := ann.Reclassify(ctx, task.ID); err == nil {
		t.Fatalf("expected error for non-open task")
	}
	if err := ann.Reclassify(ctx, uuid.New().String()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
