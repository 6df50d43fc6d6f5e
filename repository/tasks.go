package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"presentationGenerator/models"
)

// DefaultTaskRetention is how long task records live after creation.
const DefaultTaskRetention = 7 * 24 * time.Hour

// slideWriteAttempts bounds read/modify/write retries on version races.
const slideWriteAttempts = 5

// TaskRepository is the typed view over a Store. Every mutation is a
// conditional write; the store is the only serialization point.
type TaskRepository struct {
	store     Store
	retention time.Duration
	now       func() time.Time
}

func NewTaskRepository(store Store) *TaskRepository {
	return &TaskRepository{
		store:     store,
		retention: DefaultTaskRetention,
		now:       time.Now,
	}
}

// NewVersion returns a fresh opaque concurrency token.
func NewVersion() string {
	return ulid.Make().String()
}

func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	now := r.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.Status = models.StatusPending
	task.Progress = 0
	task.Version = NewVersion()
	if task.TTL == 0 {
		task.TTL = task.CreatedAt.Add(r.retention).Unix()
	}

	item, err := ToItem(task)
	if err != nil {
		return err
	}
	if err := r.store.PutItem(ctx, item, Condition{MustNotExist: true}); err != nil {
		if errors.Is(err, ErrConditionFailed) {
			return ErrTaskAlreadyExists
		}
		return err
	}
	return nil
}

func (r *TaskRepository) Get(ctx context.Context, taskID string) (*models.Task, error) {
	item, err := r.store.GetItem(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return FromItem(item)
}

// GetFields reads only the named attributes; other task fields stay zero.
func (r *TaskRepository) GetFields(ctx context.Context, taskID string, fields ...string) (*models.Task, error) {
	if len(fields) == 0 {
		return r.Get(ctx, taskID)
	}
	item, err := r.store.GetItem(ctx, taskID, fields...)
	if err != nil {
		return nil, err
	}
	return FromItem(item)
}

// Transition moves a task to a non-terminal status in a single conditional
// write. Extra attributes in patch are written with it.
func (r *TaskRepository) Transition(ctx context.Context, taskID string, to models.TaskStatus, stage models.Stage, patch Item) (*models.Task, error) {
	if to.IsTerminal() {
		return nil, fmt.Errorf("transition to terminal status %s: use Complete, Fail or Cancel", to)
	}

	update := Item{
		AttrStatus:    string(to),
		AttrStage:     string(stage),
		AttrUpdatedAt: formatTime(r.now()),
	}
	for k, v := range patch {
		update[k] = v
	}
	done, total := counters(to, update)
	update[AttrProgress] = models.Progress(to, stage, done, total)

	item, err := r.store.UpdateItem(ctx, taskID, update, Condition{StatusIn: models.PriorStatuses(to)})
	if err != nil {
		return nil, err
	}
	return FromItem(item)
}

// UpdateCounters records unit progress within the running stage. The write
// only lands while the task is still in status.
func (r *TaskRepository) UpdateCounters(ctx context.Context, taskID string, status models.TaskStatus, stage models.Stage, done, total int) error {
	doneAttr, totalAttr := AttrSlidesCompleted, AttrSlidesTotal
	if status == models.StatusImageGeneration {
		doneAttr, totalAttr = AttrImagesCompleted, AttrImagesTotal
	}
	_, err := r.store.UpdateItem(ctx, taskID, Item{
		doneAttr:      done,
		totalAttr:     total,
		AttrProgress:  models.Progress(status, stage, done, total),
		AttrUpdatedAt: formatTime(r.now()),
	}, Condition{StatusIn: []models.TaskStatus{status}})
	return err
}

// ReplaceSlides writes a full slide list if the stored version still equals
// readVersion and returns the new version.
func (r *TaskRepository) ReplaceSlides(ctx context.Context, taskID string, slides []models.Slide, readVersion string) (string, error) {
	version := NewVersion()
	_, err := r.store.UpdateItem(ctx, taskID, Item{
		AttrSlides:    slides,
		AttrVersion:   version,
		AttrUpdatedAt: formatTime(r.now()),
	}, Condition{Version: readVersion})
	if err != nil {
		return "", err
	}
	return version, nil
}

// MutateSlides applies fn to the current slides and writes the result under
// the version read, retrying when another writer got in between. The write
// is refused once the task left the statuses in allowed.
func (r *TaskRepository) MutateSlides(ctx context.Context, taskID string, allowed []models.TaskStatus, fn func([]models.Slide) ([]models.Slide, error)) (string, error) {
	for attempt := 0; attempt < slideWriteAttempts; attempt++ {
		task, err := r.GetFields(ctx, taskID, AttrStatus, AttrSlides, AttrVersion)
		if err != nil {
			return "", err
		}
		if len(allowed) > 0 && !containsStatus(allowed, task.Status) {
			return "", ErrConditionFailed
		}

		slides, err := fn(task.Slides)
		if err != nil {
			return "", err
		}

		version, err := r.ReplaceSlides(ctx, taskID, slides, task.Version)
		if errors.Is(err, ErrConditionFailed) {
			continue
		}
		return version, err
	}
	return "", ErrConditionFailed
}

func (r *TaskRepository) Complete(ctx context.Context, taskID string, result *models.Result) error {
	now := r.now().UTC()
	if result.CompletedAt.IsZero() {
		result.CompletedAt = now
	}
	_, err := r.store.UpdateItem(ctx, taskID, Item{
		AttrStatus:      string(models.StatusCompleted),
		AttrStage:       string(models.StageCompile),
		AttrProgress:    100,
		AttrResult:      result,
		AttrError:       nil,
		AttrCompletedAt: formatTime(result.CompletedAt),
		AttrUpdatedAt:   formatTime(now),
	}, Condition{StatusIn: models.PriorStatuses(models.StatusCompleted)})
	return err
}

func (r *TaskRepository) Fail(ctx context.Context, taskID string, stage models.Stage, taskErr *models.TaskError) error {
	now := r.now().UTC()
	if taskErr.Timestamp.IsZero() {
		taskErr.Timestamp = now
	}
	patch := Item{
		AttrStatus:    string(models.StatusFailed),
		AttrProgress:  models.Progress(models.StatusFailed, stage, 0, 0),
		AttrError:     taskErr,
		AttrResult:    nil,
		AttrUpdatedAt: formatTime(now),
	}
	if stage != "" {
		patch[AttrStage] = string(stage)
	}
	_, err := r.store.UpdateItem(ctx, taskID, patch, Condition{StatusIn: models.PriorStatuses(models.StatusFailed)})
	return err
}

// Cancel marks a non-terminal task cancelled. Terminal tasks yield
// ErrConditionFailed.
func (r *TaskRepository) Cancel(ctx context.Context, taskID string) (*models.Task, error) {
	item, err := r.store.UpdateItem(ctx, taskID, Item{
		AttrStatus:    string(models.StatusCancelled),
		AttrUpdatedAt: formatTime(r.now()),
	}, Condition{StatusIn: models.PriorStatuses(models.StatusCancelled)})
	if err != nil {
		return nil, err
	}
	return FromItem(item)
}

func (r *TaskRepository) PurgeExpired(ctx context.Context) (int64, error) {
	return r.store.PurgeExpired(ctx, r.now())
}

func counters(status models.TaskStatus, item Item) (int, int) {
	doneAttr, totalAttr := AttrSlidesCompleted, AttrSlidesTotal
	if status == models.StatusImageGeneration {
		doneAttr, totalAttr = AttrImagesCompleted, AttrImagesTotal
	}
	done, _ := intAttr(item, doneAttr)
	total, _ := intAttr(item, totalAttr)
	return int(done), int(total)
}

func containsStatus(set []models.TaskStatus, s models.TaskStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
