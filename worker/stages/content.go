package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"presentationGenerator/models"
	"presentationGenerator/retry"
	"presentationGenerator/worker/generator"
)

type contentDoc struct {
	Content   string   `json:"content"`
	KeyPoints []string `json:"key_points"`
}

type ContentExecutor struct {
	backend     generator.Backend
	policy      retry.Policy
	parallelism int
	logger      *zap.Logger
	now         func() time.Time
}

// NewContentExecutor builds the content stage. parallelism below 1 means
// slides are generated one at a time.
func NewContentExecutor(backend generator.Backend, policy retry.Policy, parallelism int, logger *zap.Logger) *ContentExecutor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &ContentExecutor{
		backend:     backend,
		policy:      policy,
		parallelism: parallelism,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute generates the body of every slide. A slide whose generation keeps
// failing gets a placeholder body and is flagged; the stage still succeeds.
func (e *ContentExecutor) Execute(ctx context.Context, req models.Request, outline []models.Slide, progress ProgressFunc) ([]models.Slide, Outcome) {
	if err := checkContiguous(outline); err != nil {
		return nil, fatal(models.CodeUpstreamMalformed, "outline is malformed", err)
	}

	slides := cloneSlides(outline)
	total := len(slides)
	tracker := newTracker(total, progress)

	g := new(errgroup.Group)
	g.SetLimit(e.parallelism)
	for i := range slides {
		g.Go(func() error {
			e.fill(ctx, req, &slides[i])
			tracker.done()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, retryable(models.CodeGenerationTimeout, "content stage interrupted", err)
	}
	return slides, succeeded()
}

func (e *ContentExecutor) fill(ctx context.Context, req models.Request, slide *models.Slide) {
	var doc contentDoc
	err := e.policy.Do(ctx, generator.Retryable, func(ctx context.Context, attempt int) error {
		resp, err := e.backend.Invoke(ctx, generator.Request{
			Capability: generator.CapabilityContent,
			Prompt:     contentPrompt(req, *slide),
			System:     contentSystem,
		})
		if err != nil {
			return err
		}
		var got contentDoc
		if err := json.Unmarshal([]byte(resp.Text), &got); err != nil {
			return &generator.MalformedError{Capability: generator.CapabilityContent, Err: err}
		}
		if strings.TrimSpace(got.Content) == "" {
			return &generator.MalformedError{Capability: generator.CapabilityContent, Err: errors.New("empty content")}
		}
		doc = got
		return nil
	})

	slide.UpdatedAt = e.now().UTC()
	if err != nil {
		e.logger.Warn("Slide content generation failed, using placeholder",
			zap.Int("slide_number", slide.SlideNumber),
			zap.Error(err),
		)
		slide.Content = placeholderContent(*slide)
		slide.GenerationFailed = true
		slide.GenerationError = err.Error()
		return
	}

	slide.Content = strings.TrimSpace(doc.Content)
	if len(doc.KeyPoints) > 0 {
		slide.KeyPoints = doc.KeyPoints
	}
	slide.GenerationFailed = false
	slide.GenerationError = ""
}

func placeholderContent(slide models.Slide) string {
	if len(slide.KeyPoints) == 0 {
		return fmt.Sprintf("Content for %q is not available yet.", slide.Title)
	}
	return "- " + strings.Join(slide.KeyPoints, "\n- ")
}

// tracker serializes progress reports from concurrent workers.
type tracker struct {
	mu       sync.Mutex
	count    int
	total    int
	progress ProgressFunc
}

func newTracker(total int, progress ProgressFunc) *tracker {
	return &tracker{total: total, progress: progress}
}

func (t *tracker) done() {
	if t.progress == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.progress(t.count, t.total)
}
