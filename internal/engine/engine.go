// Package engine owns the task lifecycle state machine: who may perform each
// transition, which statuses it applies to, and the point settlement that
// rides along with approval. Every transition re-reads the row inside its own
// transaction and guards the write on the status it checked, so of two
// concurrent conflicting transitions exactly one commits.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"cleanline/internal/annotator"
	"cleanline/internal/config"
	"cleanline/internal/domain"
	"cleanline/internal/events"
	"cleanline/internal/ledger"
	"cleanline/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Ledger    ledger.Ledger
	Config    *config.Config
	Scheduler annotator.Scheduler
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, sched annotator.Scheduler) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Ledger:    ledger.Ledger{DB: db},
		Config:    cfg,
		Scheduler: sched,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) variant() string {
	if e.Config == nil {
		return config.VariantThreePhase
	}
	return e.Config.Workflow.Variant
}

func (e Engine) schedule(job annotator.Job) {
	if e.Scheduler != nil {
		e.Scheduler.Enqueue(job)
	}
}

// allowedTransition encodes the directed status graph. cancelled is a legal
// edge from in_progress and pending_approval although no operation triggers
// it yet.
func allowedTransition(from, to string) bool {
	switch from {
	case domain.StatusOpen:
		return to == domain.StatusInProgress || to == domain.StatusPendingVerification
	case domain.StatusInProgress:
		return to == domain.StatusPendingApproval || to == domain.StatusCancelled
	case domain.StatusPendingApproval:
		return to == domain.StatusCompleted || to == domain.StatusCancelled
	case domain.StatusPendingVerification:
		return to == domain.StatusCompleted
	}
	return false
}

// CreateOptions are parameters for reporting a new cleanup task.
type CreateOptions struct {
	AuthorID      string
	ImageURL      string
	ImagePublicID string
	Caption       string
	Latitude      *float64
	Longitude     *float64
}

// CreateTask persists a new task in open state with the pending
// classification placeholder and schedules the asynchronous scoring pass.
// The returned task is fully hydrated.
func (e Engine) CreateTask(ctx context.Context, opts CreateOptions) (domain.Task, error) {
	if opts.ImageURL == "" {
		return domain.Task{}, ValidationError{Msg: "image_url is required"}
	}
	if opts.AuthorID == "" {
		return domain.Task{}, ValidationError{Msg: "author is required"}
	}
	if _, err := e.Repo.GetUser(ctx, opts.AuthorID); err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:             uuid.New().String(),
		AuthorID:       opts.AuthorID,
		ImageURL:       opts.ImageURL,
		ImagePublicID:  opts.ImagePublicID,
		Caption:        opts.Caption,
		Latitude:       opts.Latitude,
		Longitude:      opts.Longitude,
		PredictedClass: domain.ClassPending,
		Points:         0,
		Status:         domain.StatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.AuthorID, events.EventPayload{"status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.schedule(annotator.Job{TaskID: t.ID, ImageURL: t.ImageURL, Purpose: annotator.PurposeClassify})
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// StartWork clocks a volunteer in on an open task. The author may not claim
// their own task. Schedules the advisory verification pass over the start
// image.
func (e Engine) StartWork(ctx context.Context, volunteerID, taskID, startImageURL string) (domain.Task, error) {
	if e.variant() != config.VariantThreePhase {
		return domain.Task{}, ValidationError{Msg: "start work is not part of the two-phase workflow"}
	}
	if startImageURL == "" {
		return domain.Task{}, ValidationError{Msg: "start_image_url is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AuthorID == volunteerID {
		return domain.Task{}, ForbiddenError{Reason: "you cannot claim your own task"}
	}
	if t.Status != domain.StatusOpen {
		return domain.Task{}, InvalidStateError{Status: t.Status, Op: "start work on"}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	t.Status = domain.StatusInProgress
	t.VolunteerID = &volunteerID
	t.StartImageURL = &startImageURL
	t.StartedAt = &nowStr
	t.UpdatedAt = nowStr
	if err := e.updateGuarded(ctx, tx, t, domain.StatusOpen, "start work on"); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.claimed", "task", t.ID, volunteerID, events.EventPayload{"status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.schedule(annotator.Job{TaskID: t.ID, ImageURL: startImageURL, Purpose: annotator.PurposeVerify})
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SubmitProof clocks the volunteer out: records the after photo, derives the
// cleanup duration in whole minutes, and parks the task for author approval.
func (e Engine) SubmitProof(ctx context.Context, volunteerID, taskID, endImageURL string) (domain.Task, error) {
	if e.variant() != config.VariantThreePhase {
		return domain.Task{}, ValidationError{Msg: "submit proof is not part of the two-phase workflow"}
	}
	if endImageURL == "" {
		return domain.Task{}, ValidationError{Msg: "end_image_url is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	// Ownership before status: a stranger gets forbidden no matter what
	// state the task is in.
	if t.VolunteerID == nil || *t.VolunteerID != volunteerID {
		return domain.Task{}, ForbiddenError{Reason: "only the task's volunteer can submit proof"}
	}
	if t.Status != domain.StatusInProgress {
		return domain.Task{}, InvalidStateError{Status: t.Status, Op: "submit proof for"}
	}
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	duration := 0
	if t.StartedAt != nil {
		if start, err := time.Parse(time.RFC3339, *t.StartedAt); err == nil {
			if mins := int(now.Sub(start.UTC()).Minutes()); mins > 0 {
				duration = mins
			}
		}
	}
	t.Status = domain.StatusPendingApproval
	t.EndImageURL = &endImageURL
	t.EndedAt = &nowStr
	t.CleanupDurationMinutes = &duration
	t.UpdatedAt = nowStr
	if err := e.updateGuarded(ctx, tx, t, domain.StatusInProgress, "submit proof for"); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.proof_submitted", "task", t.ID, volunteerID, events.EventPayload{
		"status":           t.Status,
		"duration_minutes": duration,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Approve closes the task and settles points. Status update and credit commit
// in the same transaction; the credit happens exactly once because only the
// pending->completed transition can win the guarded write. With no volunteer
// attached the credit is skipped without error.
func (e Engine) Approve(ctx context.Context, authorID, taskID string, finalPoints int) (domain.Task, error) {
	if finalPoints < 0 {
		return domain.Task{}, ValidationError{Msg: "final_points must not be negative"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AuthorID != authorID {
		return domain.Task{}, ForbiddenError{Reason: "only the author can approve this task"}
	}

	fromStatus := domain.StatusPendingApproval
	creditee := t.VolunteerID
	award := finalPoints
	if e.variant() == config.VariantTwoPhase {
		fromStatus = domain.StatusPendingVerification
		creditee = t.ResolvedByID
		award = e.Config.Points.LegacyAward
	}
	if t.Status != fromStatus {
		return domain.Task{}, InvalidStateError{Status: t.Status, Op: "approve"}
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	t.Status = domain.StatusCompleted
	t.Points = award
	t.UpdatedAt = nowStr
	if err := e.updateGuarded(ctx, tx, t, fromStatus, "approve"); err != nil {
		return domain.Task{}, err
	}
	if creditee != nil {
		if err := e.Ledger.CreditTx(ctx, tx, *creditee, award); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.approved", "task", t.ID, authorID, events.EventPayload{
		"status": t.Status,
		"points": award,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ResolveTask is the deprecated two-phase claim: a volunteer submits the
// proof photo directly against an open task, skipping clock-in.
func (e Engine) ResolveTask(ctx context.Context, volunteerID, taskID, proofImageURL string) (domain.Task, error) {
	if e.variant() != config.VariantTwoPhase {
		return domain.Task{}, ValidationError{Msg: "resolve is only available in the two-phase workflow"}
	}
	if proofImageURL == "" {
		return domain.Task{}, ValidationError{Msg: "proof_image_url is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AuthorID == volunteerID {
		return domain.Task{}, ForbiddenError{Reason: "you cannot claim your own task"}
	}
	if t.Status != domain.StatusOpen {
		return domain.Task{}, InvalidStateError{Status: t.Status, Op: "resolve"}
	}
	nowStr := e.now().UTC().Format(time.RFC3339)
	t.Status = domain.StatusPendingVerification
	t.ResolvedByID = &volunteerID
	t.ProofImageURL = &proofImageURL
	t.UpdatedAt = nowStr
	if err := e.updateGuarded(ctx, tx, t, domain.StatusOpen, "resolve"); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.resolved", "task", t.ID, volunteerID, events.EventPayload{"status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskPatch is the author's narrow partial update, legal only while open.
// Absent fields stay untouched.
type TaskPatch struct {
	PredictedClass *string
	Points         *int
	Caption        *string
}

// AuthorUpdate lets the author adjust the classification, the point value or
// the caption while the task is still open.
func (e Engine) AuthorUpdate(ctx context.Context, authorID, taskID string, patch TaskPatch) (domain.Task, error) {
	if patch.Points != nil && *patch.Points < 0 {
		return domain.Task{}, ValidationError{Msg: "points must not be negative"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.AuthorID != authorID {
		return domain.Task{}, ForbiddenError{Reason: "only the author can edit this task"}
	}
	if t.Status != domain.StatusOpen {
		return domain.Task{}, InvalidStateError{Status: t.Status, Op: "edit"}
	}
	if patch.PredictedClass != nil {
		t.PredictedClass = *patch.PredictedClass
	}
	if patch.Points != nil {
		t.Points = *patch.Points
	}
	if patch.Caption != nil {
		t.Caption = *patch.Caption
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.updateGuarded(ctx, tx, t, domain.StatusOpen, "edit"); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", "task", t.ID, authorID, events.EventPayload{"status": t.Status}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask returns a single task, hydrated.
func (e Engine) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.HydrateTask(ctx, &t); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Feed lists non-completed tasks newest first, hydrated.
func (e Engine) Feed(ctx context.Context, skip, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
		ExcludeStatus: domain.StatusCompleted,
		Limit:         limit,
		Offset:        skip,
	})
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if err := e.Repo.HydrateTask(ctx, &tasks[i]); err != nil {
			return nil, err
		}
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}

// AddComment attaches a comment to an existing task.
func (e Engine) AddComment(ctx context.Context, authorID, taskID, content string) (domain.Comment, error) {
	if content == "" {
		return domain.Comment{}, ValidationError{Msg: "content is required"}
	}
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertComment(ctx, c); err != nil {
		return domain.Comment{}, err
	}
	author, err := e.Repo.GetUser(ctx, authorID)
	if err != nil {
		return domain.Comment{}, err
	}
	pub := author.Public()
	c.Author = &pub
	return c, nil
}

// Like records a user's like on a task; repeated likes are a no-op.
func (e Engine) Like(ctx context.Context, userID, taskID string) error {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return err
	}
	return e.Repo.InsertLike(ctx, domain.Like{ID: uuid.New().String(), TaskID: taskID, UserID: userID})
}

// Unlike removes a user's like on a task.
func (e Engine) Unlike(ctx context.Context, userID, taskID string) error {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return err
	}
	return e.Repo.DeleteLike(ctx, taskID, userID)
}

func (e Engine) updateGuarded(ctx context.Context, tx *sql.Tx, t domain.Task, fromStatus, op string) error {
	if t.Status != fromStatus && !allowedTransition(fromStatus, t.Status) {
		return InvalidStateError{Status: fromStatus, Op: op}
	}
	err := e.Repo.UpdateTaskGuarded(ctx, tx, t, fromStatus)
	if errors.Is(err, repo.ErrStale) {
		return ConflictError{Op: op}
	}
	return err
}
