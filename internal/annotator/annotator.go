// Package annotator reconciles oracle verdicts into tasks outside the
// request/response cycle. Transitions enqueue a job and return immediately;
// a single worker drains the queue with its own database handle.
package annotator

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"cleanline/internal/domain"
	"cleanline/internal/oracle"
	"cleanline/internal/repo"
)

type Purpose string

const (
	// PurposeClassify scores the author's photo after task creation and
	// writes predicted_class + points.
	PurposeClassify Purpose = "classify"
	// PurposeVerify scores the volunteer's clock-in photo and writes
	// verified_points only. Advisory: never touches status or points.
	PurposeVerify Purpose = "verify"
)

type Job struct {
	TaskID   string
	ImageURL string
	Purpose  Purpose
}

// Scheduler is what the lifecycle engine sees: fire-and-forget job intake.
type Scheduler interface {
	Enqueue(Job)
}

// Classifier is satisfied by *oracle.Client.
type Classifier interface {
	Classify(ctx context.Context, imageURL string) (oracle.Result, error)
}

type Annotator struct {
	repo   repo.Repo
	oracle Classifier
	logger *log.Logger
	now    func() time.Time

	jobs chan Job
	wg   sync.WaitGroup
	done chan struct{}
}

// New builds an annotator over db. The handle must be opened independently of
// the request path's handle; the annotator owns it for its whole lifetime.
func New(db *sql.DB, cl Classifier, logger *log.Logger) *Annotator {
	if logger == nil {
		logger = log.Default()
	}
	return &Annotator{
		repo:   repo.Repo{DB: db},
		oracle: cl,
		logger: logger,
		now:    time.Now,
		jobs:   make(chan Job, 64),
		done:   make(chan struct{}),
	}
}

// Start launches the worker loop. Call once.
func (a *Annotator) Start() {
	go func() {
		defer close(a.done)
		for job := range a.jobs {
			a.process(job)
			a.wg.Done()
		}
	}()
}

// Enqueue hands a job to the worker without blocking the caller. When the
// queue is full the job is dropped; the task keeps its placeholder until an
// operator re-runs classification, which beats stalling a user request.
func (a *Annotator) Enqueue(job Job) {
	a.wg.Add(1)
	select {
	case a.jobs <- job:
	default:
		a.wg.Done()
		a.logger.Printf("annotator queue full, dropping %s job for task %s", job.Purpose, job.TaskID)
	}
}

// Wait blocks until every enqueued job has been processed.
func (a *Annotator) Wait() {
	a.wg.Wait()
}

// Close drains outstanding jobs and stops the worker.
func (a *Annotator) Close() {
	a.wg.Wait()
	close(a.jobs)
	<-a.done
}

func (a *Annotator) process(job Job) {
	ctx := context.Background()

	res, err := a.oracle.Classify(ctx, job.ImageURL)
	if err != nil {
		// Best effort: absorb the failure into the sentinel so the task
		// never stays at the placeholder.
		a.logger.Printf("annotator: classify task %s (%s): %v", job.TaskID, job.Purpose, err)
		res = oracle.FailureResult()
	}

	now := a.now().UTC().Format(time.RFC3339)
	switch job.Purpose {
	case PurposeVerify:
		err = a.repo.SetVerifiedPoints(ctx, job.TaskID, res.Points, now)
	default:
		err = a.repo.SetClassification(ctx, job.TaskID, res.PredictedClass, res.Points, now)
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Task deleted while the job was in flight; nothing to reconcile.
			return
		}
		a.logger.Printf("annotator: write result for task %s: %v", job.TaskID, err)
	}
}

// Reclassify re-runs the creation-time pass for a task, used by operator
// tooling when a job was dropped or the sentinel was written.
func (a *Annotator) Reclassify(ctx context.Context, taskID string) error {
	t, err := a.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status != domain.StatusOpen {
		return errors.New("task no longer open")
	}
	a.Enqueue(Job{TaskID: t.ID, ImageURL: t.ImageURL, Purpose: PurposeClassify})
	return nil
}
