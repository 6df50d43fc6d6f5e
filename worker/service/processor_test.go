package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"presentationGenerator/models"
	"presentationGenerator/repository"
	"presentationGenerator/worker/kafka"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu    sync.Mutex
	runs  map[string]int
	seen  map[string]*models.Task
	tasks *repository.TaskRepository
	err   error
}

func (r *fakeRunner) Run(ctx context.Context, taskID string, req models.Request) error {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[taskID]++
	r.seen[taskID] = task
	return r.err
}

func newTestProcessor(t *testing.T, runErr error) (*Processor, *fakeRunner, *repository.TaskRepository) {
	t.Helper()
	repo := repository.NewTaskRepository(repository.NewMemoryStore())
	runner := &fakeRunner{
		runs:  make(map[string]int),
		seen:  make(map[string]*models.Task),
		tasks: repo,
		err:   runErr,
	}
	return NewProcessor(repo, runner, 2, nil, zaptest.NewLogger(t)), runner, repo
}

func createTask(t *testing.T, repo *repository.TaskRepository) *models.Task {
	t.Helper()
	task := &models.Task{ID: uuid.New().String(), Metadata: models.Request{Topic: "Go", SlideCount: 2}}
	require.NoError(t, repo.Create(context.Background(), task))
	return task
}

func message(t *testing.T, id, taskID, typ string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(models.Request{Topic: "Go", SlideCount: 2})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.TaskMessage{TaskID: taskID, Type: typ, Payload: payload})
	require.NoError(t, err)
	return kafka.Message{ID: id, Value: value, ReceiveCount: 1}
}

func TestProcessor_MarksProcessingBeforeRun(t *testing.T) {
	p, runner, repo := newTestProcessor(t, nil)
	task := createTask(t, repo)

	result := p.HandleBatch(context.Background(), []kafka.Message{message(t, "m1", task.ID, kafka.TypeGeneratePresentation)})

	assert.Empty(t, result.FailedItems)
	assert.Empty(t, result.Rejected)
	require.Equal(t, 1, runner.runs[task.ID])
	assert.Equal(t, models.StatusProcessing, runner.seen[task.ID].Status)
	assert.Equal(t, models.ProcessingProgress, runner.seen[task.ID].Progress)
}

func TestProcessor_TerminalTaskIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	p, runner, repo := newTestProcessor(t, nil)
	task := createTask(t, repo)

	_, err := repo.Transition(ctx, task.ID, models.StatusCompiling, models.StageCompile, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, task.ID, &models.Result{Formats: map[string]string{"json": "k"}, SlideCount: 2}))
	before, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)

	result := p.HandleBatch(ctx, []kafka.Message{message(t, "m1", task.ID, kafka.TypeGeneratePresentation)})
	assert.Empty(t, result.FailedItems)
	assert.Empty(t, result.Rejected)
	assert.Zero(t, runner.runs[task.ID])

	after, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, after.Status)
	assert.Equal(t, 100, after.Progress)
	assert.Equal(t, before.Version, after.Version)
}

func TestProcessor_ResumedTaskKeepsItsStatus(t *testing.T) {
	ctx := context.Background()
	p, runner, repo := newTestProcessor(t, nil)
	task := createTask(t, repo)
	_, err := repo.Transition(ctx, task.ID, models.StatusContentGeneration, models.StageContent, nil)
	require.NoError(t, err)

	p.HandleBatch(ctx, []kafka.Message{message(t, "m1", task.ID, kafka.TypeGeneratePresentation)})

	require.Equal(t, 1, runner.runs[task.ID])
	assert.Equal(t, models.StatusContentGeneration, runner.seen[task.ID].Status)
}

func TestProcessor_BatchOutcomes(t *testing.T) {
	p, _, repo := newTestProcessor(t, nil)
	task := createTask(t, repo)

	batch := []kafka.Message{
		message(t, "ok", task.ID, kafka.TypeGeneratePresentation),
		message(t, "unknown-type", task.ID, "render_video"),
		{ID: "garbage", Value: []byte("{{{"), ReceiveCount: 1},
		message(t, "missing-task", uuid.New().String(), kafka.TypeGeneratePresentation),
		{ID: "bad-payload", Value: []byte(`{"task_id":"` + task.ID + `","type":"generate_presentation","payload":"nope"}`), ReceiveCount: 1},
	}

	result := p.HandleBatch(context.Background(), batch)
	assert.Empty(t, result.FailedItems)
	assert.ElementsMatch(t, []string{"unknown-type", "garbage", "missing-task", "bad-payload"}, result.Rejected)
}

func TestProcessor_RunErrorsAreRedelivered(t *testing.T) {
	p, _, repo := newTestProcessor(t, errors.New("record completion: store down"))
	first := createTask(t, repo)
	second := createTask(t, repo)

	result := p.HandleBatch(context.Background(), []kafka.Message{
		message(t, "m1", first.ID, kafka.TypeGeneratePresentation),
		message(t, "m2", second.ID, kafka.TypeGeneratePresentation),
	})

	assert.ElementsMatch(t, []string{"m1", "m2"}, result.FailedItems)
	assert.Empty(t, result.Rejected)
	p.Wait()
}

func TestProcessor_UnknownTypeIsRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil)
	err := p.Process(context.Background(), message(t, "m1", "t1", "delete_everything"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, err.Error(), models.CodeUnknownMessageType)
}
