package stages

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"presentationGenerator/models"
	"presentationGenerator/retry"
	"presentationGenerator/worker/generator"
)

type NotesExecutor struct {
	backend generator.Backend
	policy  retry.Policy
	logger  *zap.Logger
}

func NewNotesExecutor(backend generator.Backend, policy retry.Policy, logger *zap.Logger) *NotesExecutor {
	return &NotesExecutor{backend: backend, policy: policy, logger: logger}
}

// Execute adds speaker notes to every slide. Notes are optional: if any slide
// cannot be annotated the input is returned unchanged and the stage succeeds.
func (e *NotesExecutor) Execute(ctx context.Context, in []models.Slide) ([]models.Slide, Outcome) {
	slides := cloneSlides(in)
	for i := range slides {
		notes, err := e.notes(ctx, slides[i])
		if err != nil {
			e.logger.Warn("Speaker notes unavailable, keeping slides unchanged",
				zap.Int("slide_number", slides[i].SlideNumber),
				zap.Error(err),
			)
			return in, succeeded()
		}
		slides[i].SpeakerNotes = notes
	}
	return slides, succeeded()
}

func (e *NotesExecutor) notes(ctx context.Context, slide models.Slide) (string, error) {
	var notes string
	err := e.policy.Do(ctx, generator.Retryable, func(ctx context.Context, attempt int) error {
		resp, err := e.backend.Invoke(ctx, generator.Request{
			Capability: generator.CapabilityNotes,
			Prompt:     notesPrompt(slide),
			System:     notesSystem,
		})
		if err != nil {
			return err
		}
		notes = strings.TrimSpace(resp.Text)
		if notes == "" {
			return &generator.MalformedError{Capability: generator.CapabilityNotes, Err: errors.New("empty notes")}
		}
		return nil
	})
	return notes, err
}
