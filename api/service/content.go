package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"presentationGenerator/api/validation"
	"presentationGenerator/besteffort"
	"presentationGenerator/models"
	"presentationGenerator/repository"
)

// SlideMirror receives a copy of every edited slide.
type SlideMirror interface {
	Put(ctx context.Context, taskID, version string, slide models.Slide) error
}

// ContentService applies user edits to generated slides. Every write is
// conditional on the version it read.
type ContentService struct {
	tasks      *repository.TaskRepository
	cache      ViewCache
	mirror     SlideMirror
	bestEffort *besteffort.Runner
	now        func() time.Time
	logger     *zap.Logger
}

// NewContentService wires the edit path. cache and mirror may be nil.
func NewContentService(tasks *repository.TaskRepository, cache ViewCache, mirror SlideMirror, logger *zap.Logger) *ContentService {
	return &ContentService{
		tasks:      tasks,
		cache:      cache,
		mirror:     mirror,
		bestEffort: besteffort.New(logger),
		now:        time.Now,
		logger:     logger,
	}
}

// UpdateSlide merges patch into slide n and returns the slide with the new
// version. With expectedVersion nil the edit is last-writer-wins.
func (s *ContentService) UpdateSlide(ctx context.Context, taskID string, n int, patch validation.SlidePatch, expectedVersion *string) (*models.Slide, string, error) {
	if err := validation.NormalizePatch(&patch); err != nil {
		return nil, "", err
	}
	if n < 1 {
		return nil, "", validation.ErrSlideOutOfRange
	}

	task, err := s.tasks.GetFields(ctx, taskID, repository.AttrMetadata, repository.AttrVersion)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, "", models.NotFoundError(models.CodeTaskNotFound, "task not found")
		}
		return nil, "", err
	}
	if err := validation.CheckSlideNumber(n, task.Metadata.SlideCount); err != nil {
		return nil, "", err
	}

	var updated models.Slide
	edit := func(slides []models.Slide) ([]models.Slide, error) {
		if n > len(slides) {
			return nil, models.NotFoundError(models.CodeSlideOutOfRange, "slide has not been generated yet")
		}
		out := make([]models.Slide, len(slides))
		copy(out, slides)
		patch.Apply(&out[n-1])
		out[n-1].UpdatedAt = s.now().UTC()
		updated = out[n-1]
		return out, nil
	}

	var version string
	if expectedVersion != nil {
		version, err = s.replace(ctx, taskID, *expectedVersion, edit)
	} else {
		version, err = s.tasks.MutateSlides(ctx, taskID, nil, edit)
	}
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Slide updated",
		zap.String("task_id", taskID),
		zap.Int("slide_number", n),
		zap.String("version", version),
	)

	if s.cache != nil {
		s.bestEffort.Do(ctx, "invalidate_view", func(ctx context.Context) error {
			return s.cache.Delete(ctx, taskID)
		}, zap.String("task_id", taskID))
	}
	if s.mirror != nil {
		s.bestEffort.Do(ctx, "mirror_slide", func(ctx context.Context) error {
			return s.mirror.Put(ctx, taskID, version, updated)
		}, zap.String("task_id", taskID), zap.Int("slide_number", n))
	}

	return &updated, version, nil
}

// replace is the optimistic-lock path: one read, one write, both pinned to
// the caller's version.
func (s *ContentService) replace(ctx context.Context, taskID, expected string, edit func([]models.Slide) ([]models.Slide, error)) (string, error) {
	conflict := models.NewError(models.KindVersionConflict, models.CodeVersionConflict, "task was modified since version "+expected, nil)

	task, err := s.tasks.GetFields(ctx, taskID, repository.AttrSlides, repository.AttrVersion)
	if err != nil {
		return "", err
	}
	if task.Version != expected {
		return "", conflict
	}

	slides, err := edit(task.Slides)
	if err != nil {
		return "", err
	}

	version, err := s.tasks.ReplaceSlides(ctx, taskID, slides, expected)
	if errors.Is(err, repository.ErrConditionFailed) {
		return "", conflict
	}
	return version, err
}
