package stages

import (
	"fmt"
	"strings"

	"presentationGenerator/models"
)

const outlineSystem = `You plan slide presentations. Answer with JSON only, shaped as
{"slides":[{"title":"...","key_points":["..."],"layout":"title|title_and_content|two_column|image_focus|closing"}]}.`

const contentSystem = `You write the body of a single presentation slide. Answer with JSON only, shaped as
{"content":"...","key_points":["..."]}.`

const notesSystem = `You write short speaker notes for a presentation slide. Answer with plain text only.`

func outlinePrompt(req models.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	if req.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", req.Audience)
	}
	if req.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.Style)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	fmt.Fprintf(&b, "Produce exactly %d slides.", req.SlideCount)
	return b.String()
}

func contentPrompt(req models.Request, slide models.Slide) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Presentation topic: %s\n", req.Topic)
	fmt.Fprintf(&b, "Slide %d: %s\n", slide.SlideNumber, slide.Title)
	if len(slide.KeyPoints) > 0 {
		fmt.Fprintf(&b, "Key points:\n- %s\n", strings.Join(slide.KeyPoints, "\n- "))
	}
	if req.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", req.Audience)
	}
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	return b.String()
}

func imagePrompt(slide models.Slide) string {
	if len(slide.KeyPoints) == 0 {
		return fmt.Sprintf("An illustration for a slide titled %q", slide.Title)
	}
	return fmt.Sprintf("An illustration for a slide titled %q about %s", slide.Title, strings.Join(slide.KeyPoints, ", "))
}

func notesPrompt(slide models.Slide) string {
	return fmt.Sprintf("Slide %d: %s\n\n%s", slide.SlideNumber, slide.Title, slide.Content)
}

// keyword derives the stock library key for a slide from its title.
func keyword(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
