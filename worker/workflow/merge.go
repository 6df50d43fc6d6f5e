package workflow

import (
	"encoding/json"
	"fmt"

	"presentationGenerator/models"
)

// mergeSlides folds a stage's output into the stored slides. Each stage only
// owns its own fields, so edits made to other fields in the meantime survive.
func mergeSlides(stage models.Stage, stored, out []models.Slide) ([]models.Slide, error) {
	switch stage {
	case models.StageOutline:
		return out, nil
	case models.StageContent, models.StageImage, models.StageNotes:
	case models.StageCompile:
		return stored, nil
	default:
		return nil, fmt.Errorf("merge slides: unknown stage %q", stage)
	}

	if len(stored) != len(out) {
		return out, nil
	}

	merged := make([]models.Slide, len(stored))
	for i := range stored {
		s := stored[i]
		o := out[i]
		switch stage {
		case models.StageContent:
			s.Content = o.Content
			s.KeyPoints = o.KeyPoints
			s.GenerationFailed = o.GenerationFailed
			s.GenerationError = o.GenerationError
		case models.StageImage:
			s.Images = o.Images
		case models.StageNotes:
			s.SpeakerNotes = o.SpeakerNotes
		}
		if o.UpdatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = o.UpdatedAt
		}
		merged[i] = s
	}
	return merged, nil
}

// encodeOutput serializes a stage output for its checkpoint.
func encodeOutput(output any) ([]byte, error) {
	switch out := output.(type) {
	case []models.Slide:
		return encodeSlides(out)
	case *models.Result:
		return encodeResult(out)
	}
	return nil, fmt.Errorf("encode checkpoint: unexpected output %T", output)
}

func encodeSlides(slides []models.Slide) ([]byte, error) {
	return json.Marshal(slides)
}

func encodeResult(result *models.Result) ([]byte, error) {
	return json.Marshal(result)
}

func decodeSlides(data []byte) ([]models.Slide, error) {
	var slides []models.Slide
	if err := json.Unmarshal(data, &slides); err != nil {
		return nil, fmt.Errorf("decode slides checkpoint: %w", err)
	}
	return slides, nil
}

func decodeResult(data []byte) (*models.Result, error) {
	var result models.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode compile checkpoint: %w", err)
	}
	return &result, nil
}
