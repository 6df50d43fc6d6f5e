// Package workflow drives a task through its stages. The engine is the only
// writer of workflow state: status transitions, counters, slides, checkpoints
// and the terminal result or error.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"presentationGenerator/besteffort"
	"presentationGenerator/checkpoint"
	"presentationGenerator/models"
	"presentationGenerator/repository"
	"presentationGenerator/retry"
	"presentationGenerator/worker/metrics"
	"presentationGenerator/worker/stages"
)

const (
	DefaultStageTimeout = 5 * time.Minute
	DefaultCallTimeout  = 30 * time.Second
)

// StatusMirror receives a copy of every status change.
type StatusMirror interface {
	Set(ctx context.Context, taskID string, status models.TaskStatus, stage models.Stage, progress int) error
}

type Executors struct {
	Outline *stages.OutlineExecutor
	Content *stages.ContentExecutor
	Image   *stages.ImageExecutor
	Notes   *stages.NotesExecutor
	Compile *stages.CompileExecutor
}

// Config bounds the engine. StageTimeout covers one attempt of a stage;
// CallTimeout covers each store, checkpoint and mirror call the engine makes.
// Backend calls are bounded by generator.WithTimeout.
type Config struct {
	StageTimeout time.Duration
	CallTimeout  time.Duration
	Retry        retry.Policy
}

type Engine struct {
	tasks       *repository.TaskRepository
	checkpoints *checkpoint.Store
	exec        Executors
	mirror      StatusMirror
	bestEffort  *besteffort.Runner
	cfg         Config
	logger      *zap.Logger
}

// NewEngine wires the engine. mirror may be nil.
func NewEngine(tasks *repository.TaskRepository, checkpoints *checkpoint.Store, exec Executors, mirror StatusMirror, cfg Config, logger *zap.Logger) *Engine {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Engine{
		tasks:       tasks,
		checkpoints: checkpoints,
		exec:        exec,
		mirror:      mirror,
		bestEffort:  besteffort.New(logger).WithTimeout(cfg.CallTimeout),
		cfg:         cfg,
		logger:      logger,
	}
}

// run carries the state of a single Run call between stages.
type run struct {
	taskID  string
	req     models.Request
	logger  *zap.Logger
	slides  []models.Slide
	result  *models.Result
	resumed map[models.Stage][]byte
	stopped bool
	// behind is set while a redelivered run repeats a stage the stored task
	// already moved past. Counter writes are skipped since their status
	// condition cannot hold.
	behind bool
}

// Run executes the enabled stages of req in order. It returns nil once the
// task reached a terminal status (or was found already terminal), and an
// error when the message should be delivered again.
func (e *Engine) Run(ctx context.Context, taskID string, req models.Request) error {
	r := &run{
		taskID: taskID,
		req:    req,
		logger: e.logger.With(zap.String("task_id", taskID)),
	}

	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	r.resumed = e.loadCheckpoints(ctx, r)

	for _, stage := range req.Stages() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.stopRequested(ctx, r) {
			return nil
		}

		if err := e.runStage(ctx, r, stage); err != nil {
			return err
		}
		if r.stopped {
			return nil
		}
	}

	return e.complete(ctx, r)
}

func (e *Engine) loadCheckpoints(ctx context.Context, r *run) map[models.Stage][]byte {
	resumed := make(map[models.Stage][]byte)
	callCtx, cancel := e.bounded(ctx)
	defer cancel()

	cps, err := e.checkpoints.List(callCtx, r.taskID)
	if err != nil {
		r.logger.Warn("Failed to load checkpoints, starting from scratch", zap.Error(err))
		return resumed
	}
	for _, cp := range cps {
		resumed[cp.CheckpointType] = cp.Data
	}
	if len(resumed) > 0 {
		r.logger.Info("Resuming from checkpoints", zap.Int("checkpoints", len(resumed)))
	}
	return resumed
}

// stopRequested reports whether the task left the running states, e.g.
// through an external cancel. Read failures are logged and ignored.
func (e *Engine) stopRequested(ctx context.Context, r *run) bool {
	status, ok := e.storedStatus(ctx, r)
	return ok && e.stopIfTerminal(r, status)
}

func (e *Engine) storedStatus(ctx context.Context, r *run) (models.TaskStatus, bool) {
	callCtx, cancel := e.bounded(ctx)
	defer cancel()

	task, err := e.tasks.GetFields(callCtx, r.taskID, repository.AttrStatus)
	if err != nil {
		r.logger.Warn("Failed to read task status", zap.Error(err))
		return "", false
	}
	return task.Status, true
}

func (e *Engine) stopIfTerminal(r *run, status models.TaskStatus) bool {
	if !status.IsTerminal() {
		return false
	}

	r.logger.Info("Task no longer running, stopping", zap.String("status", string(status)))
	if status == models.StatusCancelled {
		metrics.TasksFinished.WithLabelValues(string(models.StatusCancelled)).Inc()
	}
	return true
}

func (e *Engine) runStage(ctx context.Context, r *run, stage models.Stage) error {
	log := r.logger.With(zap.String("stage", string(stage)))

	status, err := stage.Status()
	if err != nil {
		return err
	}

	if data, ok := r.resumed[stage]; ok {
		err := e.restore(ctx, r, stage, data)
		if err == nil {
			log.Info("Stage restored from checkpoint")
			return nil
		}
		log.Warn("Checkpoint unusable, running stage again", zap.Error(err))
		delete(r.resumed, stage)
	}

	if !e.enter(ctx, r, stage, status) {
		return nil
	}

	start := time.Now()
	output, err := e.execute(ctx, r, stage, status)
	if err != nil {
		metrics.StageDuration.WithLabelValues(string(stage), "failure").Observe(time.Since(start).Seconds())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return e.fail(ctx, r, stage, err)
	}
	metrics.StageDuration.WithLabelValues(string(stage), "success").Observe(time.Since(start).Seconds())
	log.Info("Stage completed", zap.Duration("duration", time.Since(start)))

	e.saveCheckpoint(ctx, r, stage, output)
	return e.apply(ctx, r, stage, output)
}

// enter writes the status under which stage runs, with fresh counters for
// the unit-counted stages. A refused write is only fatal to the run when the
// task turned out to be terminal.
func (e *Engine) enter(ctx context.Context, r *run, stage models.Stage, status models.TaskStatus) bool {
	var patch repository.Item
	switch stage {
	case models.StageContent:
		patch = repository.Item{repository.AttrSlidesCompleted: 0, repository.AttrSlidesTotal: len(r.slides)}
	case models.StageImage:
		patch = repository.Item{repository.AttrImagesCompleted: 0, repository.AttrImagesTotal: len(r.slides)}
	}

	r.behind = false

	var task *models.Task
	ok := e.bestEffort.Do(ctx, "transition", func(ctx context.Context) error {
		var err error
		task, err = e.tasks.Transition(ctx, r.taskID, status, stage, patch)
		return err
	}, zap.String("task_id", r.taskID), zap.String("status", string(status)))
	if !ok {
		metrics.StateWriteFailures.WithLabelValues("transition").Inc()
		stored, read := e.storedStatus(ctx, r)
		if !read {
			return true
		}
		if e.stopIfTerminal(r, stored) {
			r.stopped = true
			return false
		}
		if !models.CanTransition(stored, status) {
			r.behind = true
			r.logger.Info("Task already past this stage, repeating it without progress writes",
				zap.String("stage", string(stage)),
				zap.String("stored_status", string(stored)),
			)
		}
		return true
	}

	e.mirrorStatus(ctx, r, task.Status, stage, task.Progress)
	return true
}

func (e *Engine) execute(ctx context.Context, r *run, stage models.Stage, status models.TaskStatus) (any, error) {
	// counter writes outlive the attempt deadline; the runner bounds each one
	progress := e.progressFunc(ctx, r, stage, status)

	var output any
	err := e.cfg.Retry.Do(ctx, isTransient, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			metrics.StageRetries.WithLabelValues(string(stage)).Inc()
			r.logger.Info("Retrying stage", zap.String("stage", string(stage)), zap.Int("attempt", attempt))
		}

		stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()

		out, outcome := e.dispatch(stageCtx, r, stage, progress)
		if !outcome.OK() {
			r.logger.Warn("Stage attempt failed",
				zap.String("stage", string(stage)),
				zap.Int("attempt", attempt),
				zap.Stringer("outcome", outcome.Kind),
				zap.String("code", outcome.Code),
				zap.Error(outcome.Err),
			)
			return outcome.Error()
		}
		output = out
		return nil
	})
	return output, err
}

func (e *Engine) dispatch(ctx context.Context, r *run, stage models.Stage, progress stages.ProgressFunc) (any, stages.Outcome) {
	switch stage {
	case models.StageOutline:
		return e.exec.Outline.Execute(ctx, r.req)
	case models.StageContent:
		return e.exec.Content.Execute(ctx, r.req, r.slides, progress)
	case models.StageImage:
		return e.exec.Image.Execute(ctx, r.taskID, r.slides, progress)
	case models.StageNotes:
		return e.exec.Notes.Execute(ctx, r.slides)
	case models.StageCompile:
		return e.exec.Compile.Execute(ctx, r.taskID, r.req, r.slides)
	}
	return nil, stages.Outcome{
		Kind: stages.FatalFailure,
		Code: models.CodeInvalidRequest,
		Err:  fmt.Errorf("unknown stage %q", stage),
	}
}

func (e *Engine) progressFunc(ctx context.Context, r *run, stage models.Stage, status models.TaskStatus) stages.ProgressFunc {
	return func(done, total int) {
		if r.behind {
			return
		}
		ok := e.bestEffort.Do(ctx, "update_counters", func(ctx context.Context) error {
			return e.tasks.UpdateCounters(ctx, r.taskID, status, stage, done, total)
		}, zap.String("task_id", r.taskID), zap.Int("done", done), zap.Int("total", total))
		if !ok {
			metrics.StateWriteFailures.WithLabelValues("counters").Inc()
			return
		}
		e.mirrorStatus(ctx, r, status, stage, models.Progress(status, stage, done, total))
	}
}

// restore replays a checkpointed stage output instead of executing it.
func (e *Engine) restore(ctx context.Context, r *run, stage models.Stage, data []byte) error {
	if stage == models.StageCompile {
		result, err := decodeResult(data)
		if err != nil {
			return err
		}
		r.result = result
		return nil
	}
	slides, err := decodeSlides(data)
	if err != nil {
		return err
	}
	return e.apply(ctx, r, stage, slides)
}

// apply writes the stage output and makes it the input of the next stage.
func (e *Engine) apply(ctx context.Context, r *run, stage models.Stage, output any) error {
	if stage == models.StageCompile {
		result, ok := output.(*models.Result)
		if !ok {
			return fmt.Errorf("compile stage returned %T", output)
		}
		r.result = result
		return nil
	}

	slides, ok := output.([]models.Slide)
	if !ok {
		return fmt.Errorf("%s stage returned %T", stage, output)
	}

	merged := slides
	callCtx, cancel := e.bounded(ctx)
	_, err := e.tasks.MutateSlides(callCtx, r.taskID, models.NonTerminalStatuses, func(stored []models.Slide) ([]models.Slide, error) {
		m, err := mergeSlides(stage, stored, slides)
		if err != nil {
			return nil, err
		}
		merged = m
		return m, nil
	})
	cancel()
	if err != nil {
		metrics.StateWriteFailures.WithLabelValues("slides").Inc()
		r.logger.Warn("Failed to write slides, continuing with stage output",
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
		merged = slides
		if errors.Is(err, repository.ErrConditionFailed) && e.stopRequested(ctx, r) {
			r.stopped = true
		}
	}
	r.slides = merged
	return nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, r *run, stage models.Stage, output any) {
	if _, ok := r.resumed[stage]; ok {
		return
	}
	ok := e.bestEffort.Do(ctx, "save_checkpoint", func(ctx context.Context) error {
		data, err := encodeOutput(output)
		if err != nil {
			return err
		}
		err = e.checkpoints.Save(ctx, models.Checkpoint{
			TaskID:         r.taskID,
			CheckpointType: stage,
			Data:           data,
		})
		if errors.Is(err, checkpoint.ErrCheckpointExists) {
			return nil
		}
		return err
	}, zap.String("task_id", r.taskID), zap.String("stage", string(stage)))
	if !ok {
		metrics.StateWriteFailures.WithLabelValues("checkpoint").Inc()
	}
}

func (e *Engine) complete(ctx context.Context, r *run) error {
	if r.result == nil {
		return fmt.Errorf("task %s finished without a compile result", r.taskID)
	}

	callCtx, cancel := e.bounded(ctx)
	err := e.tasks.Complete(callCtx, r.taskID, r.result)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) && e.stopRequested(ctx, r) {
			return nil
		}
		metrics.StateWriteFailures.WithLabelValues("complete").Inc()
		return fmt.Errorf("record completion: %w", err)
	}

	metrics.TasksFinished.WithLabelValues(string(models.StatusCompleted)).Inc()
	e.mirrorStatus(ctx, r, models.StatusCompleted, models.StageCompile, 100)
	r.logger.Info("Presentation completed",
		zap.Int("slides", r.result.SlideCount),
		zap.String("download_key", r.result.DownloadKey),
	)
	return nil
}

// fail records the terminal error. The message is only acknowledged once the
// failure is persisted.
func (e *Engine) fail(ctx context.Context, r *run, stage models.Stage, cause error) error {
	code := models.CodeOf(cause, models.CodeGenerationFailed)
	if errors.Is(cause, retry.ErrExhausted) {
		code = models.CodeRetriesExhausted
	}

	taskErr := &models.TaskError{
		Message: fmt.Sprintf("%s stage failed: %v", stage, cause),
		Code:    code,
	}
	r.logger.Error("Task failed",
		zap.String("stage", string(stage)),
		zap.String("code", code),
		zap.Error(cause),
	)

	callCtx, cancel := e.bounded(ctx)
	err := e.tasks.Fail(callCtx, r.taskID, stage, taskErr)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) && e.stopRequested(ctx, r) {
			return nil
		}
		metrics.StateWriteFailures.WithLabelValues("fail").Inc()
		return fmt.Errorf("record failure: %w", err)
	}

	metrics.TasksFinished.WithLabelValues(string(models.StatusFailed)).Inc()
	e.mirrorStatus(ctx, r, models.StatusFailed, stage, models.Progress(models.StatusFailed, stage, 0, 0))
	r.stopped = true
	return nil
}

func (e *Engine) mirrorStatus(ctx context.Context, r *run, status models.TaskStatus, stage models.Stage, progress int) {
	if e.mirror == nil {
		return
	}
	ok := e.bestEffort.Do(ctx, "mirror_status", func(ctx context.Context) error {
		return e.mirror.Set(ctx, r.taskID, status, stage, progress)
	}, zap.String("task_id", r.taskID))
	if !ok {
		metrics.StateWriteFailures.WithLabelValues("mirror").Inc()
	}
}

// bounded limits one store call made outside the best-effort runner.
func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func isTransient(err error) bool {
	return errors.Is(err, models.ErrTransient)
}
