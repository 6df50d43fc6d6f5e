package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"presentationGenerator/blob"
	"presentationGenerator/models"
)

const DefaultDownloadTTL = time.Hour

var formatExtensions = map[string]string{
	models.FormatJSON:     "json",
	models.FormatMarkdown: "md",
}

var formatContentTypes = map[string]string{
	models.FormatJSON:     "application/json",
	models.FormatMarkdown: "text/markdown; charset=utf-8",
}

func PresentationKey(taskID, format string) string {
	return fmt.Sprintf("presentations/%s/presentation.%s", taskID, formatExtensions[format])
}

// document is the json rendition of a compiled presentation.
type document struct {
	TaskID      string         `json:"task_id"`
	Topic       string         `json:"topic"`
	Audience    string         `json:"audience,omitempty"`
	Language    string         `json:"language,omitempty"`
	SlideCount  int            `json:"slide_count"`
	Slides      []models.Slide `json:"slides"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type CompileExecutor struct {
	blobs       blob.Store
	downloadTTL time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewCompileExecutor(blobs blob.Store, downloadTTL time.Duration, logger *zap.Logger) *CompileExecutor {
	if downloadTTL <= 0 {
		downloadTTL = DefaultDownloadTTL
	}
	return &CompileExecutor{blobs: blobs, downloadTTL: downloadTTL, logger: logger, now: time.Now}
}

// Execute renders the slides into every requested format and stores the
// artifacts. Any failure is fatal: there is no partial presentation.
func (e *CompileExecutor) Execute(ctx context.Context, taskID string, req models.Request, slides []models.Slide) (*models.Result, Outcome) {
	if err := checkContiguous(slides); err != nil {
		return nil, fatal(models.CodeCompileFailed, "slides are malformed", err)
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = []string{models.FormatJSON}
	}

	now := e.now().UTC()
	result := &models.Result{
		Formats:    make(map[string]string, len(formats)),
		SlideCount: len(slides),
	}
	for _, format := range formats {
		if _, ok := result.Formats[format]; ok {
			continue
		}
		data, err := render(format, taskID, req, slides, now)
		if err != nil {
			return nil, fatal(models.CodeCompileFailed, "render failed", err)
		}
		key := PresentationKey(taskID, format)
		if err := e.blobs.PutObject(ctx, key, data, formatContentTypes[format]); err != nil {
			return nil, fatal(models.CodeCompileFailed, "store artifact failed", err)
		}
		result.Formats[format] = key
		result.FileSize += int64(len(data))
		if result.DownloadKey == "" {
			result.DownloadKey = key
		}
	}

	url, err := e.blobs.PresignGet(ctx, result.DownloadKey, e.downloadTTL)
	if err != nil {
		// the status endpoint presigns again on read
		e.logger.Warn("Presign download failed", zap.String("task_id", taskID), zap.Error(err))
	} else {
		result.DownloadURL = url
	}

	e.logger.Info("Presentation compiled",
		zap.String("task_id", taskID),
		zap.Int("slides", len(slides)),
		zap.Int("formats", len(result.Formats)),
		zap.Int64("size", result.FileSize),
	)
	return result, succeeded()
}

func render(format, taskID string, req models.Request, slides []models.Slide, now time.Time) ([]byte, error) {
	switch format {
	case models.FormatJSON:
		return json.MarshalIndent(document{
			TaskID:      taskID,
			Topic:       req.Topic,
			Audience:    req.Audience,
			Language:    req.Language,
			SlideCount:  len(slides),
			Slides:      slides,
			GeneratedAt: now,
		}, "", "  ")
	case models.FormatMarkdown:
		return renderMarkdown(req, slides), nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

func renderMarkdown(req models.Request, slides []models.Slide) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", req.Topic)
	for _, s := range slides {
		fmt.Fprintf(&b, "\n---\n\n## %d. %s\n\n", s.SlideNumber, s.Title)
		if s.Content != "" {
			b.WriteString(s.Content)
			b.WriteString("\n")
		}
		if len(s.KeyPoints) > 0 && !strings.Contains(s.Content, s.KeyPoints[0]) {
			b.WriteString("\n")
			for _, kp := range s.KeyPoints {
				fmt.Fprintf(&b, "- %s\n", kp)
			}
		}
		for _, img := range s.Images {
			fmt.Fprintf(&b, "\n![%s](%s)\n", s.Title, img.Key)
		}
		if s.SpeakerNotes != "" {
			fmt.Fprintf(&b, "\n> Notes: %s\n", strings.ReplaceAll(s.SpeakerNotes, "\n", "\n> "))
		}
	}
	return []byte(b.String())
}
