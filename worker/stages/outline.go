package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"presentationGenerator/models"
	"presentationGenerator/worker/generator"
)

const defaultLayout = "title_and_content"

type outlineDoc struct {
	Slides []struct {
		Title     string   `json:"title"`
		KeyPoints []string `json:"key_points"`
		Layout    string   `json:"layout"`
	} `json:"slides"`
}

type OutlineExecutor struct {
	backend generator.Backend
	logger  *zap.Logger
}

func NewOutlineExecutor(backend generator.Backend, logger *zap.Logger) *OutlineExecutor {
	return &OutlineExecutor{backend: backend, logger: logger}
}

// Execute asks the backend for slide stubs. The number of stubs must match
// req.SlideCount exactly.
func (e *OutlineExecutor) Execute(ctx context.Context, req models.Request) ([]models.Slide, Outcome) {
	if req.SlideCount <= 0 {
		return nil, fatal(models.CodeInvalidRequest, "slide count must be positive",
			models.ValidationError(models.CodeInvalidRequest, "slide_count must be positive"))
	}

	resp, err := e.backend.Invoke(ctx, generator.Request{
		Capability: generator.CapabilityOutline,
		Prompt:     outlinePrompt(req),
		System:     outlineSystem,
	})
	if err != nil {
		return nil, fromGeneratorError("outline generation failed", err)
	}

	var doc outlineDoc
	if err := json.Unmarshal([]byte(resp.Text), &doc); err != nil {
		return nil, fatal(models.CodeUpstreamMalformed, "outline is not valid JSON",
			&generator.MalformedError{Capability: generator.CapabilityOutline, Err: err})
	}

	if len(doc.Slides) != req.SlideCount {
		msg := fmt.Sprintf("requested %d slides, outline has %d", req.SlideCount, len(doc.Slides))
		e.logger.Warn("Outline slide count mismatch",
			zap.Int("requested", req.SlideCount),
			zap.Int("received", len(doc.Slides)),
		)
		return nil, fatal(models.CodeOutlineCountMismatch, msg,
			models.ValidationError(models.CodeOutlineCountMismatch, msg))
	}

	slides := make([]models.Slide, len(doc.Slides))
	for i, s := range doc.Slides {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = fmt.Sprintf("Slide %d", i+1)
		}
		layout := strings.TrimSpace(s.Layout)
		if layout == "" {
			layout = defaultLayout
		}
		slides[i] = models.Slide{
			SlideNumber: i + 1,
			Title:       title,
			KeyPoints:   s.KeyPoints,
			LayoutType:  layout,
		}
	}
	return slides, succeeded()
}
