package dto

import (
	"time"

	"presentationGenerator/models"
)

type CreateTaskRequest struct {
	Topic         string   `json:"topic"`
	Audience      string   `json:"audience,omitempty"`
	Style         string   `json:"style,omitempty"`
	Language      string   `json:"language,omitempty"`
	SlideCount    int      `json:"slide_count"`
	IncludeImages bool     `json:"include_images"`
	IncludeNotes  bool     `json:"include_notes"`
	Formats       []string `json:"formats,omitempty"`
}

func (r *CreateTaskRequest) ToModel() models.Request {
	return models.Request{
		Topic:         r.Topic,
		Audience:      r.Audience,
		Style:         r.Style,
		Language:      r.Language,
		SlideCount:    r.SlideCount,
		IncludeImages: r.IncludeImages,
		IncludeNotes:  r.IncludeNotes,
		Formats:       r.Formats,
	}
}

type Links map[string]string

type TaskResponse struct {
	TaskID    string    `json:"task_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	Links     Links     `json:"_links"`
}

// StatusView is the polling payload. Fields that do not apply to the current
// status are omitted.
type StatusView struct {
	TaskID          string      `json:"task_id"`
	Status          string      `json:"status"`
	Progress        int         `json:"progress"`
	Stage           string      `json:"stage,omitempty"`
	CreatedAt       *time.Time  `json:"created_at,omitempty"`
	UpdatedAt       *time.Time  `json:"updated_at,omitempty"`
	SlidesCompleted *int        `json:"slides_completed,omitempty"`
	SlidesTotal     *int        `json:"slides_total,omitempty"`
	ImagesCompleted *int        `json:"images_completed,omitempty"`
	ImagesTotal     *int        `json:"images_total,omitempty"`
	Result          *ResultView `json:"result,omitempty"`
	Error           *ErrorView  `json:"error,omitempty"`
	Links           Links       `json:"_links"`
}

type ResultView struct {
	Formats           []string   `json:"formats"`
	DownloadURL       string     `json:"download_url,omitempty"`
	SlideCount        int        `json:"slide_count"`
	FileSize          int64      `json:"file_size,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ProcessingSeconds *float64   `json:"processing_seconds,omitempty"`
}

type ErrorView struct {
	Message   string     `json:"message"`
	Code      string     `json:"code"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type PresentationView struct {
	TaskID  string         `json:"task_id"`
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Request models.Request `json:"metadata"`
	Slides  []models.Slide `json:"slides"`
	Links   Links          `json:"_links"`
}

// UpdateSlideRequest carries a partial slide edit. Nil fields stay untouched.
type UpdateSlideRequest struct {
	Title           *string `json:"title,omitempty"`
	Content         *string `json:"content,omitempty"`
	SpeakerNotes    *string `json:"speaker_notes,omitempty"`
	LayoutType      *string `json:"layout_type,omitempty"`
	ExpectedVersion *string `json:"expected_version,omitempty"`
}

type UpdateSlideResponse struct {
	Slide   models.Slide `json:"slide"`
	Version string       `json:"version"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
