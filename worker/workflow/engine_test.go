package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"presentationGenerator/blob"
	"presentationGenerator/checkpoint"
	"presentationGenerator/models"
	"presentationGenerator/repository"
	"presentationGenerator/retry"
	"presentationGenerator/worker/converter"
	"presentationGenerator/worker/generator"
	"presentationGenerator/worker/stages"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMirror struct {
	mu       sync.Mutex
	statuses []models.TaskStatus
}

func (m *fakeMirror) Set(ctx context.Context, taskID string, status models.TaskStatus, stage models.Stage, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.statuses); n == 0 || m.statuses[n-1] != status {
		m.statuses = append(m.statuses, status)
	}
	return nil
}

func (m *fakeMirror) seen() []models.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TaskStatus(nil), m.statuses...)
}

// scriptedBackend answers every capability with valid output unless a hook
// for that capability is set.
type scriptedBackend struct {
	mu     sync.Mutex
	slides int
	calls  map[generator.Capability]int
	hooks  map[generator.Capability]func(req generator.Request) (generator.Response, error)
}

func newScriptedBackend(slides int) *scriptedBackend {
	return &scriptedBackend{
		slides: slides,
		calls:  make(map[generator.Capability]int),
		hooks:  make(map[generator.Capability]func(req generator.Request) (generator.Response, error)),
	}
}

func (b *scriptedBackend) on(c generator.Capability, fn func(req generator.Request) (generator.Response, error)) {
	b.hooks[c] = fn
}

func (b *scriptedBackend) count(c generator.Capability) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[c]
}

func (b *scriptedBackend) Invoke(ctx context.Context, req generator.Request) (generator.Response, error) {
	b.mu.Lock()
	b.calls[req.Capability]++
	hook := b.hooks[req.Capability]
	b.mu.Unlock()

	if hook != nil {
		return hook(req)
	}

	switch req.Capability {
	case generator.CapabilityOutline:
		return generator.Response{Text: outlineJSON(b.slides)}, nil
	case generator.CapabilityContent:
		title := strings.SplitN(strings.SplitN(req.Prompt, "\n", 3)[1], ": ", 2)[1]
		return generator.Response{Text: fmt.Sprintf(`{"content":"Body of %s"}`, title)}, nil
	case generator.CapabilityNotes:
		return generator.Response{Text: "Speak slowly."}, nil
	case generator.CapabilityImage:
		return generator.Response{}, generator.ErrUnsupportedCapability
	}
	return generator.Response{}, fmt.Errorf("unexpected capability %s", req.Capability)
}

func outlineJSON(n int) string {
	var parts []string
	for i := 1; i <= n; i++ {
		parts = append(parts, fmt.Sprintf(`{"title":"Topic %d","key_points":["k%d"]}`, i, i))
	}
	return `{"slides":[` + strings.Join(parts, ",") + `]}`
}

type fixture struct {
	store   *repository.MemoryStore
	repo    *repository.TaskRepository
	cps     *checkpoint.Store
	blobs   *blob.FSStore
	mirror  *fakeMirror
	backend *scriptedBackend
	engine  *Engine
}

func newFixture(t *testing.T, backend *scriptedBackend, store repository.Store, records checkpoint.Records) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mem, _ := store.(*repository.MemoryStore)
	if store == nil {
		mem = repository.NewMemoryStore()
		store = mem
	}
	if records == nil {
		records = checkpoint.NewMemoryRecords()
	}

	blobs := blob.NewFSStore(afero.NewMemMapFs(), "/data", "http://files.local")
	cps := checkpoint.NewStore(records, blobs, logger)
	repo := repository.NewTaskRepository(store)
	policy := retry.NoDelay(3)

	mirror := &fakeMirror{}
	engine := NewEngine(repo, cps, Executors{
		Outline: stages.NewOutlineExecutor(backend, logger),
		Content: stages.NewContentExecutor(backend, policy, 2, logger),
		Image:   stages.NewImageExecutor(backend, blobs, converter.NewConverter(logger), policy, 2, logger),
		Notes:   stages.NewNotesExecutor(backend, policy, logger),
		Compile: stages.NewCompileExecutor(blobs, time.Hour, logger),
	}, mirror, Config{StageTimeout: 5 * time.Second, Retry: policy}, logger)

	return &fixture{
		store:   mem,
		repo:    repo,
		cps:     cps,
		blobs:   blobs,
		mirror:  mirror,
		backend: backend,
		engine:  engine,
	}
}

func (f *fixture) submit(t *testing.T, req models.Request) string {
	t.Helper()
	task := &models.Task{ID: uuid.New().String(), Metadata: req}
	require.NoError(t, f.repo.Create(context.Background(), task))
	return task.ID
}

func (f *fixture) checkpointTypes(t *testing.T, taskID string) []models.Stage {
	t.Helper()
	cps, err := f.cps.List(context.Background(), taskID)
	require.NoError(t, err)
	var out []models.Stage
	for _, cp := range cps {
		out = append(out, cp.CheckpointType)
	}
	return out
}

func fullRequest(n int) models.Request {
	return models.Request{
		Topic:         "Solar power",
		SlideCount:    n,
		IncludeImages: true,
		IncludeNotes:  true,
		Formats:       []string{models.FormatJSON, models.FormatMarkdown},
	}
}

func TestEngine_CompletesFiveSlides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, newScriptedBackend(5), nil, nil)
	taskID := f.submit(t, fullRequest(5))

	require.NoError(t, f.engine.Run(ctx, taskID, fullRequest(5)))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
	assert.Nil(t, task.Error)
	require.NotNil(t, task.Result)
	assert.Equal(t, 5, task.Result.SlideCount)
	assert.Equal(t, "presentations/"+taskID+"/presentation.json", task.Result.Formats[models.FormatJSON])
	assert.Equal(t, "presentations/"+taskID+"/presentation.md", task.Result.Formats[models.FormatMarkdown])
	require.NotNil(t, task.CompletedAt)

	require.Len(t, task.Slides, 5)
	for i, s := range task.Slides {
		assert.Equal(t, i+1, s.SlideNumber)
		assert.Equal(t, fmt.Sprintf("Body of Topic %d", i+1), s.Content)
		assert.Equal(t, "Speak slowly.", s.SpeakerNotes)
		require.Len(t, s.Images, 1)
		assert.Equal(t, stages.ImageSourcePlaceholder, s.Images[0].Source)
	}
	assert.Equal(t, 5, task.SlidesCompleted)
	assert.Equal(t, 5, task.SlidesTotal)
	assert.Equal(t, 5, task.ImagesCompleted)

	assert.ElementsMatch(t, []models.Stage{
		models.StageOutline, models.StageContent, models.StageImage, models.StageNotes, models.StageCompile,
	}, f.checkpointTypes(t, taskID))

	assert.Equal(t, []models.TaskStatus{
		models.StatusOutlining,
		models.StatusContentGeneration,
		models.StatusImageGeneration,
		models.StatusCompiling,
		models.StatusCompleted,
	}, f.mirror.seen())
}

func TestEngine_ImageFailuresStillComplete(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(3)
	backend.on(generator.CapabilityImage, func(req generator.Request) (generator.Response, error) {
		return generator.Response{}, api.StatusError{StatusCode: http.StatusServiceUnavailable}
	})
	f := newFixture(t, backend, nil, nil)
	taskID := f.submit(t, fullRequest(3))

	require.NoError(t, f.engine.Run(ctx, taskID, fullRequest(3)))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Nil(t, task.Error)
	assert.NotContains(t, f.mirror.seen(), models.StatusFailed)
	assert.Equal(t, 9, backend.count(generator.CapabilityImage), "each slide retried three times")

	for _, s := range task.Slides {
		require.Len(t, s.Images, 1)
		assert.Equal(t, stages.ImageSourcePlaceholder, s.Images[0].Source)
		_, err := f.blobs.HeadObject(ctx, s.Images[0].Key)
		assert.NoError(t, err)
	}
}

func TestEngine_OutlineCountMismatchFails(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(3)
	f := newFixture(t, backend, nil, nil)
	req := fullRequest(10)
	taskID := f.submit(t, req)

	require.NoError(t, f.engine.Run(ctx, taskID, req))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, models.CodeOutlineCountMismatch, task.Error.Code)
	assert.Nil(t, task.Result)
	assert.Equal(t, 20, task.Progress)

	assert.Empty(t, f.checkpointTypes(t, taskID))
	assert.Zero(t, backend.count(generator.CapabilityContent))
	assert.Equal(t, 1, backend.count(generator.CapabilityOutline), "fatal outcomes are not retried")
}

func TestEngine_TransientFailureExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(2)
	backend.on(generator.CapabilityOutline, func(req generator.Request) (generator.Response, error) {
		return generator.Response{}, api.StatusError{StatusCode: http.StatusTooManyRequests}
	})
	f := newFixture(t, backend, nil, nil)
	taskID := f.submit(t, fullRequest(2))

	require.NoError(t, f.engine.Run(ctx, taskID, fullRequest(2)))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, models.CodeRetriesExhausted, task.Error.Code)
	assert.Equal(t, 3, backend.count(generator.CapabilityOutline))
}

func TestEngine_SkipsDisabledStages(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(2)
	f := newFixture(t, backend, nil, nil)
	req := models.Request{Topic: "Go", SlideCount: 2}
	taskID := f.submit(t, req)

	require.NoError(t, f.engine.Run(ctx, taskID, req))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Zero(t, backend.count(generator.CapabilityImage))
	assert.Zero(t, backend.count(generator.CapabilityNotes))
	assert.ElementsMatch(t, []models.Stage{models.StageOutline, models.StageContent, models.StageCompile}, f.checkpointTypes(t, taskID))
	assert.NotContains(t, f.mirror.seen(), models.StatusImageGeneration)
	assert.Empty(t, task.Slides[0].Images)
}

func TestEngine_StopsWhenCancelled(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(2)
	f := newFixture(t, backend, nil, nil)
	taskID := f.submit(t, fullRequest(2))

	backend.on(generator.CapabilityOutline, func(req generator.Request) (generator.Response, error) {
		_, err := f.repo.Cancel(context.Background(), taskID)
		require.NoError(t, err)
		return generator.Response{Text: outlineJSON(2)}, nil
	})

	require.NoError(t, f.engine.Run(ctx, taskID, fullRequest(2)))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, task.Status)
	assert.Nil(t, task.Error)
	assert.Nil(t, task.Result)
	assert.Zero(t, backend.count(generator.CapabilityContent))
}

func TestEngine_RunOnTerminalTaskIsNoop(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(2)
	f := newFixture(t, backend, nil, nil)
	req := models.Request{Topic: "Go", SlideCount: 2}
	taskID := f.submit(t, req)
	require.NoError(t, f.engine.Run(ctx, taskID, req))

	before, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	writes := f.store.WriteCount()
	outlineCalls := backend.count(generator.CapabilityOutline)

	require.NoError(t, f.engine.Run(ctx, taskID, req))

	after, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, writes, f.store.WriteCount())
	assert.Equal(t, outlineCalls, backend.count(generator.CapabilityOutline))
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, before.Version, after.Version)
}

func TestEngine_ResumesFromCheckpoints(t *testing.T) {
	ctx := context.Background()
	backend := newScriptedBackend(2)
	f := newFixture(t, backend, nil, nil)
	req := fullRequest(2)
	taskID := f.submit(t, req)

	slides := []models.Slide{
		{SlideNumber: 1, Title: "Topic 1", Content: "Saved body 1"},
		{SlideNumber: 2, Title: "Topic 2", Content: "Saved body 2"},
	}
	data, err := json.Marshal(slides)
	require.NoError(t, err)
	require.NoError(t, f.cps.Save(ctx, models.Checkpoint{TaskID: taskID, CheckpointType: models.StageOutline, Data: data}))
	require.NoError(t, f.cps.Save(ctx, models.Checkpoint{TaskID: taskID, CheckpointType: models.StageContent, Data: data}))
	_, err = f.repo.Transition(ctx, taskID, models.StatusImageGeneration, models.StageImage, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Run(ctx, taskID, req))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Zero(t, backend.count(generator.CapabilityOutline))
	assert.Zero(t, backend.count(generator.CapabilityContent))
	assert.Equal(t, 2, backend.count(generator.CapabilityNotes))
	assert.Equal(t, "Saved body 1", task.Slides[0].Content)
	assert.Equal(t, "Speak slowly.", task.Slides[0].SpeakerNotes)
}

// flakyStore refuses counter and slide writes to simulate a degraded task
// store.
type flakyStore struct {
	*repository.MemoryStore
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyStore) UpdateItem(ctx context.Context, taskID string, patch repository.Item, cond repository.Condition) (repository.Item, error) {
	if _, ok := patch[repository.AttrSlides]; ok {
		return nil, errStoreDown
	}
	if _, ok := patch[repository.AttrImagesCompleted]; ok && len(patch) == 4 {
		return nil, errStoreDown
	}
	return s.MemoryStore.UpdateItem(ctx, taskID, patch, cond)
}

type failingRecords struct {
	*checkpoint.MemoryRecords
}

func (failingRecords) Insert(ctx context.Context, cp *models.Checkpoint) error {
	return errStoreDown
}

func TestEngine_StateWriteFailuresDoNotAbort(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	f := newFixture(t, newScriptedBackend(3), store, failingRecords{checkpoint.NewMemoryRecords()})
	taskID := f.submit(t, fullRequest(3))

	require.NoError(t, f.engine.Run(ctx, taskID, fullRequest(3)))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, 3, task.Result.SlideCount)
	assert.Empty(t, task.Slides, "slide writes were refused")
	assert.Empty(t, f.checkpointTypes(t, taskID))

	md, err := f.blobs.GetObject(ctx, task.Result.Formats[models.FormatMarkdown])
	require.NoError(t, err)
	assert.Contains(t, string(md), "Body of Topic 2")
}

func TestEngine_ShutdownLeavesTaskForRedelivery(t *testing.T) {
	backend := newScriptedBackend(2)
	f := newFixture(t, backend, nil, nil)
	taskID := f.submit(t, fullRequest(2))

	ctx, cancel := context.WithCancel(context.Background())
	backend.on(generator.CapabilityOutline, func(req generator.Request) (generator.Response, error) {
		cancel()
		return generator.Response{}, context.Canceled
	})

	err := f.engine.Run(ctx, taskID, fullRequest(2))
	assert.ErrorIs(t, err, context.Canceled)

	task, err := f.repo.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, task.Status.IsTerminal())
}

func TestMergeSlides_KeepsFieldsOwnedByOtherStages(t *testing.T) {
	stored := []models.Slide{{SlideNumber: 1, Title: "Edited title", Content: "old", SpeakerNotes: "mine"}}
	out := []models.Slide{{SlideNumber: 1, Title: "Generated", Content: "new", Images: []models.ImageRef{{Key: "k"}}}}

	merged, err := mergeSlides(models.StageContent, stored, out)
	require.NoError(t, err)
	assert.Equal(t, "Edited title", merged[0].Title)
	assert.Equal(t, "new", merged[0].Content)
	assert.Equal(t, "mine", merged[0].SpeakerNotes)
	assert.Empty(t, merged[0].Images)

	merged, err = mergeSlides(models.StageImage, stored, out)
	require.NoError(t, err)
	assert.Equal(t, "old", merged[0].Content)
	assert.Len(t, merged[0].Images, 1)

	merged, err = mergeSlides(models.StageOutline, stored, out)
	require.NoError(t, err)
	assert.Equal(t, "Generated", merged[0].Title)

	_, err = mergeSlides("render", stored, out)
	assert.Error(t, err)
}

func TestEngine_HungImageBackendStillCompletes(t *testing.T) {
	for _, tc := range []struct {
		name        string
		callTimeout time.Duration
	}{
		{"call timeout", 20 * time.Millisecond},
		{"stage deadline", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			scripted := newScriptedBackend(2)
			hung := generator.BackendFunc(func(ctx context.Context, req generator.Request) (generator.Response, error) {
				if req.Capability == generator.CapabilityImage {
					<-ctx.Done()
					return generator.Response{}, ctx.Err()
				}
				return scripted.Invoke(ctx, req)
			})

			f := newFixture(t, scripted, nil, nil)
			logger := zaptest.NewLogger(t)
			f.engine.exec.Image = stages.NewImageExecutor(generator.WithTimeout(hung, tc.callTimeout), f.blobs,
				converter.NewConverter(logger), retry.NoDelay(3), 2, logger)
			f.engine.cfg.StageTimeout = 200 * time.Millisecond
			taskID := f.submit(t, fullRequest(2))

			require.NoError(t, f.engine.Run(ctx, taskID, fullRequest(2)))

			task, err := f.repo.Get(ctx, taskID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCompleted, task.Status)
			assert.Nil(t, task.Error)
			assert.NotContains(t, f.mirror.seen(), models.StatusFailed)
			for _, s := range task.Slides {
				require.Len(t, s.Images, 1)
				assert.Equal(t, stages.ImageSourcePlaceholder, s.Images[0].Source)
			}
		})
	}
}

// refusalCountingStore counts conditional writes the store turned down.
type refusalCountingStore struct {
	*repository.MemoryStore
	mu      sync.Mutex
	refused int
}

func (s *refusalCountingStore) UpdateItem(ctx context.Context, taskID string, patch repository.Item, cond repository.Condition) (repository.Item, error) {
	item, err := s.MemoryStore.UpdateItem(ctx, taskID, patch, cond)
	if errors.Is(err, repository.ErrConditionFailed) {
		s.mu.Lock()
		s.refused++
		s.mu.Unlock()
	}
	return item, err
}

func (s *refusalCountingStore) refusals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refused
}

func TestEngine_RepeatedStageSkipsCounterWrites(t *testing.T) {
	ctx := context.Background()
	store := &refusalCountingStore{MemoryStore: repository.NewMemoryStore()}
	backend := newScriptedBackend(3)
	f := newFixture(t, backend, store, nil)
	req := models.Request{Topic: "Go", SlideCount: 3, IncludeImages: true}
	taskID := f.submit(t, req)

	// the checkpoints of outline and content were lost before redelivery
	_, err := f.repo.Transition(ctx, taskID, models.StatusImageGeneration, models.StageImage, nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Run(ctx, taskID, req))

	task, err := f.repo.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, 3, backend.count(generator.CapabilityContent))
	assert.Equal(t, "Body of Topic 3", task.Slides[2].Content)
	assert.Equal(t, 3, task.ImagesCompleted)
	assert.Equal(t, 2, store.refusals(), "only the outline and content transitions are refused")
}

func TestEncodeOutput(t *testing.T) {
	data, err := encodeOutput([]models.Slide{{SlideNumber: 1, Title: "Intro"}})
	require.NoError(t, err)
	slides, err := decodeSlides(data)
	require.NoError(t, err)
	assert.Equal(t, "Intro", slides[0].Title)

	data, err = encodeOutput(&models.Result{SlideCount: 4})
	require.NoError(t, err)
	result, err := decodeResult(data)
	require.NoError(t, err)
	assert.Equal(t, 4, result.SlideCount)

	_, err = encodeOutput("slides")
	assert.Error(t, err)
}
