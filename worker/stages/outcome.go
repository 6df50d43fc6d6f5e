// Package stages holds the executors for each generation stage. Executors
// never write workflow state; they take the previous stage's output and
// report an Outcome the engine acts on.
package stages

import (
	"context"
	"errors"
	"fmt"

	"presentationGenerator/models"
	"presentationGenerator/worker/generator"
)

type Kind int

const (
	Success Kind = iota
	RetryableFailure
	FatalFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case FatalFailure:
		return "fatal_failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Outcome struct {
	Kind   Kind
	Code   string
	Reason string
	Err    error
}

func (o Outcome) OK() bool { return o.Kind == Success }

// Error returns Err wrapped as a classified models.Error.
func (o Outcome) Error() error {
	if o.Kind == Success {
		return nil
	}
	var classified *models.Error
	if errors.As(o.Err, &classified) {
		return o.Err
	}
	kind := models.KindFatal
	if o.Kind == RetryableFailure {
		kind = models.KindTransient
	}
	return models.NewError(kind, o.Code, o.Reason, o.Err)
}

// ProgressFunc receives unit progress inside a stage. Calls are serialized
// and done never decreases.
type ProgressFunc func(done, total int)

func succeeded() Outcome { return Outcome{Kind: Success} }

func retryable(code, reason string, err error) Outcome {
	return Outcome{Kind: RetryableFailure, Code: code, Reason: reason, Err: err}
}

func fatal(code, reason string, err error) Outcome {
	return Outcome{Kind: FatalFailure, Code: code, Reason: reason, Err: err}
}

// fromGeneratorError turns a backend failure into an Outcome, keeping
// timeouts distinguishable.
func fromGeneratorError(reason string, err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return retryable(models.CodeGenerationTimeout, reason, err)
	}
	var malformed *generator.MalformedError
	if errors.As(err, &malformed) {
		return fatal(models.CodeUpstreamMalformed, reason, err)
	}
	if generator.Retryable(err) {
		return retryable(models.CodeGenerationFailed, reason, err)
	}
	return fatal(models.CodeGenerationFailed, reason, err)
}

// checkContiguous verifies slides are numbered 1..n in order.
func checkContiguous(slides []models.Slide) error {
	if len(slides) == 0 {
		return errors.New("no slides")
	}
	for i, s := range slides {
		if s.SlideNumber != i+1 {
			return fmt.Errorf("slide at position %d is numbered %d", i+1, s.SlideNumber)
		}
	}
	return nil
}

func cloneSlides(slides []models.Slide) []models.Slide {
	out := make([]models.Slide, len(slides))
	copy(out, slides)
	return out
}
