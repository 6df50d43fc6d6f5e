package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"presentationGenerator/blob"
	"presentationGenerator/models"
	"presentationGenerator/retry"
	"presentationGenerator/worker/converter"
	"presentationGenerator/worker/generator"
)

const (
	ImageSourceGenerated   = "generated"
	ImageSourceStock       = "stock"
	ImageSourcePlaceholder = "placeholder"
)

// fallbackTimeout bounds the stock lookup and placeholder upload of a slide
// once its stage deadline has passed.
const fallbackTimeout = 10 * time.Second

func ImageKey(taskID string, slideNumber int) string {
	return fmt.Sprintf("images/%s/slide-%d.png", taskID, slideNumber)
}

func StockKey(keyword string) string {
	return fmt.Sprintf("stock/%s.png", keyword)
}

type ImageExecutor struct {
	backend     generator.Backend
	blobs       blob.Store
	converter   *converter.Converter
	policy      retry.Policy
	parallelism int
	logger      *zap.Logger
	now         func() time.Time
}

func NewImageExecutor(backend generator.Backend, blobs blob.Store, conv *converter.Converter, policy retry.Policy, parallelism int, logger *zap.Logger) *ImageExecutor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &ImageExecutor{
		backend:     backend,
		blobs:       blobs,
		converter:   conv,
		policy:      policy,
		parallelism: parallelism,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute attaches one image to every slide: generated when the backend
// delivers, else a stock image, else a rendered placeholder. Generator
// problems and an expired stage deadline never fail the stage; only
// cancellation does.
func (e *ImageExecutor) Execute(ctx context.Context, taskID string, in []models.Slide, progress ProgressFunc) ([]models.Slide, Outcome) {
	if err := checkContiguous(in); err != nil {
		return nil, fatal(models.CodeUpstreamMalformed, "slides are malformed", err)
	}

	slides := cloneSlides(in)
	tracker := newTracker(len(slides), progress)

	g := new(errgroup.Group)
	g.SetLimit(e.parallelism)
	for i := range slides {
		g.Go(func() error {
			if ref, ok := e.resolve(ctx, taskID, slides[i]); ok {
				slides[i].Images = []models.ImageRef{ref}
				slides[i].UpdatedAt = e.now().UTC()
			}
			tracker.done()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, retryable(models.CodeGenerationTimeout, "image stage interrupted", err)
	}
	return slides, succeeded()
}

func (e *ImageExecutor) resolve(ctx context.Context, taskID string, slide models.Slide) (models.ImageRef, bool) {
	log := e.logger.With(zap.String("task_id", taskID), zap.Int("slide_number", slide.SlideNumber))

	ref, err := e.generate(ctx, taskID, slide)
	if err == nil {
		return ref, true
	}
	log.Info("Image generation failed, trying stock library", zap.Error(err))

	fctx, cancel := fallbackContext(ctx)
	defer cancel()

	if ref, ok := e.stock(fctx, slide); ok {
		return ref, true
	}

	ref, err = e.placeholder(fctx, taskID, slide)
	if err != nil {
		log.Warn("Placeholder image upload failed, slide left without image", zap.Error(err))
		return models.ImageRef{}, false
	}
	return ref, true
}

func (e *ImageExecutor) generate(ctx context.Context, taskID string, slide models.Slide) (models.ImageRef, error) {
	var data []byte
	err := e.policy.Do(ctx, generator.Retryable, func(ctx context.Context, attempt int) error {
		resp, err := e.backend.Invoke(ctx, generator.Request{
			Capability: generator.CapabilityImage,
			Prompt:     imagePrompt(slide),
		})
		if err != nil {
			return err
		}
		if len(resp.Image) == 0 {
			return &generator.MalformedError{Capability: generator.CapabilityImage, Err: errors.New("empty image")}
		}
		data, err = e.converter.Normalize(resp.Image)
		if err != nil {
			return &generator.MalformedError{Capability: generator.CapabilityImage, Err: err}
		}
		return nil
	})
	if err != nil {
		return models.ImageRef{}, err
	}

	key := ImageKey(taskID, slide.SlideNumber)
	if err := e.blobs.PutObject(ctx, key, data, "image/png"); err != nil {
		return models.ImageRef{}, fmt.Errorf("store generated image: %w", err)
	}
	return models.ImageRef{
		Key:    key,
		Source: ImageSourceGenerated,
		Width:  converter.SlideWidth,
		Height: converter.SlideHeight,
	}, nil
}

func (e *ImageExecutor) stock(ctx context.Context, slide models.Slide) (models.ImageRef, bool) {
	kw := keyword(slide.Title)
	if kw == "" {
		return models.ImageRef{}, false
	}
	key := StockKey(kw)
	if _, err := e.blobs.HeadObject(ctx, key); err != nil {
		if !errors.Is(err, blob.ErrObjectNotFound) {
			e.logger.Debug("Stock image lookup failed", zap.String("key", key), zap.Error(err))
		}
		return models.ImageRef{}, false
	}
	return models.ImageRef{Key: key, Source: ImageSourceStock}, true
}

func (e *ImageExecutor) placeholder(ctx context.Context, taskID string, slide models.Slide) (models.ImageRef, error) {
	data, err := e.converter.Placeholder(slide.Title)
	if err != nil {
		return models.ImageRef{}, err
	}
	key := ImageKey(taskID, slide.SlideNumber)
	if err := e.blobs.PutObject(ctx, key, data, "image/png"); err != nil {
		return models.ImageRef{}, err
	}
	return models.ImageRef{
		Key:    key,
		Source: ImageSourcePlaceholder,
		Width:  converter.SlideWidth,
		Height: converter.SlideHeight,
	}, nil
}

// fallbackContext detaches from the deadline of ctx but not from its
// cancellation, so a slide whose generation used up the stage budget still
// gets a stock or placeholder image.
func fallbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.Canceled) {
			cancel()
		}
	})
	return fctx, func() {
		stop()
		cancel()
	}
}
