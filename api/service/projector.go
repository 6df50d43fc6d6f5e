package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"presentationGenerator/api/cache"
	"presentationGenerator/api/dto"
	"presentationGenerator/besteffort"
	"presentationGenerator/models"
	"presentationGenerator/repository"
)

const DefaultDownloadTTL = time.Hour

// Presigner issues time-limited download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Projector builds status views with the fewest store reads the status
// allows: base fields first, then only what that status shows.
type Projector struct {
	tasks       *repository.TaskRepository
	cache       ViewCache
	presigner   Presigner
	downloadTTL time.Duration
	bestEffort  *besteffort.Runner
	logger      *zap.Logger
}

// NewProjector wires a projector. cache and presigner may be nil.
func NewProjector(tasks *repository.TaskRepository, cache ViewCache, presigner Presigner, downloadTTL time.Duration, logger *zap.Logger) *Projector {
	if downloadTTL <= 0 {
		downloadTTL = DefaultDownloadTTL
	}
	return &Projector{
		tasks:       tasks,
		cache:       cache,
		presigner:   presigner,
		downloadTTL: downloadTTL,
		bestEffort:  besteffort.New(logger),
		logger:      logger,
	}
}

// statusFields lists the attributes a status adds to the base view.
func statusFields(status models.TaskStatus) ([]string, error) {
	switch status {
	case models.StatusContentGeneration:
		return []string{repository.AttrSlidesCompleted, repository.AttrSlidesTotal}, nil
	case models.StatusImageGeneration:
		return []string{repository.AttrImagesCompleted, repository.AttrImagesTotal}, nil
	case models.StatusCompleted:
		return []string{repository.AttrResult, repository.AttrCompletedAt}, nil
	case models.StatusFailed:
		return []string{repository.AttrError}, nil
	case models.StatusPending, models.StatusProcessing, models.StatusOutlining,
		models.StatusCompiling, models.StatusCancelled:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown status %q", string(status))
}

func (p *Projector) Project(ctx context.Context, taskID string) (*dto.StatusView, error) {
	if p.cache != nil {
		view, err := p.cache.Get(ctx, taskID)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("Status cache read failed", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	base, err := p.tasks.GetFields(ctx, taskID, repository.BaseFields...)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, models.NotFoundError(models.CodeTaskNotFound, "task not found")
		}
		return nil, err
	}

	fields, err := statusFields(base.Status)
	if err != nil {
		return nil, err
	}
	extra := &models.Task{}
	if len(fields) > 0 {
		if extra, err = p.tasks.GetFields(ctx, taskID, fields...); err != nil {
			return nil, err
		}
	}

	view := p.build(ctx, taskID, base, extra)

	if base.Status.IsTerminal() && p.cache != nil {
		p.bestEffort.Do(ctx, "cache_view", func(ctx context.Context) error {
			return p.cache.Set(ctx, view)
		}, zap.String("task_id", taskID))
	}
	return view, nil
}

func (p *Projector) build(ctx context.Context, taskID string, base, extra *models.Task) *dto.StatusView {
	view := &dto.StatusView{
		TaskID:    taskID,
		Status:    string(base.Status),
		Stage:     string(base.Stage),
		CreatedAt: timePtr(base.CreatedAt),
		UpdatedAt: timePtr(base.UpdatedAt),
		Links:     taskLinks(taskID),
	}

	switch base.Status {
	case models.StatusContentGeneration:
		view.Progress = models.Progress(base.Status, base.Stage, extra.SlidesCompleted, extra.SlidesTotal)
		view.SlidesCompleted = intPtr(extra.SlidesCompleted)
		view.SlidesTotal = intPtr(extra.SlidesTotal)
	case models.StatusImageGeneration:
		view.Progress = models.Progress(base.Status, base.Stage, extra.ImagesCompleted, extra.ImagesTotal)
		view.ImagesCompleted = intPtr(extra.ImagesCompleted)
		view.ImagesTotal = intPtr(extra.ImagesTotal)
	case models.StatusCompleted:
		view.Progress = models.Progress(base.Status, base.Stage, 0, 0)
		view.Links["presentation"] = "/tasks/" + taskID + "/presentation"
		if extra.Result != nil {
			view.Result = p.result(ctx, taskID, base, extra)
			if view.Result.DownloadURL != "" {
				view.Links["download"] = view.Result.DownloadURL
			}
		}
	case models.StatusFailed:
		view.Progress = models.Progress(base.Status, base.Stage, 0, 0)
		if extra.Error != nil {
			view.Error = &dto.ErrorView{
				Message:   extra.Error.Message,
				Code:      extra.Error.Code,
				Timestamp: timePtr(extra.Error.Timestamp),
			}
		}
	default:
		view.Progress = models.Progress(base.Status, base.Stage, 0, 0)
	}
	return view
}

func (p *Projector) result(ctx context.Context, taskID string, base, extra *models.Task) *dto.ResultView {
	res := extra.Result
	formats := make([]string, 0, len(res.Formats))
	for f := range res.Formats {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	view := &dto.ResultView{
		Formats:     formats,
		DownloadURL: res.DownloadURL,
		SlideCount:  res.SlideCount,
		FileSize:    res.FileSize,
	}

	// timestamps that did not parse come back zero; elapsed time needs both
	view.CompletedAt = timePtr(res.CompletedAt)
	if extra.CompletedAt != nil {
		view.CompletedAt = extra.CompletedAt
		if !base.CreatedAt.IsZero() {
			seconds := extra.CompletedAt.Sub(base.CreatedAt).Seconds()
			view.ProcessingSeconds = &seconds
		}
	}

	if p.presigner != nil && res.DownloadKey != "" {
		url, err := p.presigner.PresignGet(ctx, res.DownloadKey, p.downloadTTL)
		if err != nil {
			p.logger.Warn("Presign download failed",
				zap.String("task_id", taskID),
				zap.String("key", res.DownloadKey),
				zap.Error(err))
		} else {
			view.DownloadURL = url
		}
	}
	return view
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func intPtr(n int) *int {
	return &n
}
