package validation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"presentationGenerator/models"
)

const (
	MaxTopicLength = 500
	MaxSlideCount  = 50
	MaxPatchBytes  = 10000
)

var allowedFormats = map[string]bool{
	models.FormatJSON:     true,
	models.FormatMarkdown: true,
}

var allowedLayouts = map[string]bool{
	"title":             true,
	"title_and_content": true,
	"two_column":        true,
	"image_left":        true,
	"image_right":       true,
	"section_header":    true,
	"blank":             true,
}

// NormalizeRequest cleans req in place and checks it can be generated.
func NormalizeRequest(req *models.Request) error {
	req.Topic = clean(req.Topic)
	req.Audience = clean(req.Audience)
	req.Style = clean(req.Style)
	req.Language = clean(req.Language)

	if req.Topic == "" {
		return ErrTopicRequired
	}
	if utf8.RuneCountInString(req.Topic) > MaxTopicLength {
		return ErrTopicTooLong
	}
	if req.SlideCount < 1 || req.SlideCount > MaxSlideCount {
		return ErrSlideCount
	}

	seen := make(map[string]bool, len(req.Formats))
	formats := req.Formats[:0]
	for _, f := range req.Formats {
		f = strings.ToLower(strings.TrimSpace(f))
		if !allowedFormats[f] {
			return ErrUnsupportedFormat
		}
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	req.Formats = formats
	return nil
}

// SlidePatch lists the editable slide fields. Nil means untouched.
type SlidePatch struct {
	Title        *string `json:"title,omitempty"`
	Content      *string `json:"content,omitempty"`
	SpeakerNotes *string `json:"speaker_notes,omitempty"`
	LayoutType   *string `json:"layout_type,omitempty"`
}

func (p SlidePatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.SpeakerNotes == nil && p.LayoutType == nil
}

// Apply copies the present fields onto slide.
func (p SlidePatch) Apply(slide *models.Slide) {
	if p.Title != nil {
		slide.Title = *p.Title
	}
	if p.Content != nil {
		slide.Content = *p.Content
	}
	if p.SpeakerNotes != nil {
		slide.SpeakerNotes = *p.SpeakerNotes
	}
	if p.LayoutType != nil {
		slide.LayoutType = *p.LayoutType
	}
}

// NormalizePatch brings every text field to NFC and enforces the edit rules.
// It never looks at stored state.
func NormalizePatch(p *SlidePatch) error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	for _, f := range []*string{p.Title, p.Content, p.SpeakerNotes, p.LayoutType} {
		if f != nil {
			*f = norm.NFC.String(*f)
		}
	}

	if p.Title != nil {
		*p.Title = strings.TrimSpace(*p.Title)
		if *p.Title == "" {
			return ErrTitleEmpty
		}
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return ErrContentEmpty
	}
	if p.LayoutType != nil && !allowedLayouts[*p.LayoutType] {
		return ErrLayoutUnknown
	}

	data, err := json.Marshal(p)
	if err != nil {
		return models.ValidationError(models.CodeInvalidRequest, err.Error())
	}
	if len(data) > MaxPatchBytes {
		return ErrContentTooLarge
	}
	return nil
}

// CheckSlideNumber validates n against the requested slide count.
func CheckSlideNumber(n, slideCount int) error {
	if n < 1 || n > slideCount {
		return ErrSlideOutOfRange
	}
	return nil
}

func clean(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
