package models

import (
	"time"
)

const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

type Request struct {
	Topic         string   `json:"topic"`
	Audience      string   `json:"audience,omitempty"`
	Style         string   `json:"style,omitempty"`
	Language      string   `json:"language,omitempty"`
	SlideCount    int      `json:"slide_count"`
	IncludeImages bool     `json:"include_images"`
	IncludeNotes  bool     `json:"include_notes"`
	Formats       []string `json:"formats,omitempty"`
}

// Stages returns the enabled stages of the request in pipeline order.
func (r Request) Stages() []Stage {
	stages := make([]Stage, 0, len(AllStages))
	for _, s := range AllStages {
		if s == StageImage && !r.IncludeImages {
			continue
		}
		if s == StageNotes && !r.IncludeNotes {
			continue
		}
		stages = append(stages, s)
	}
	return stages
}

type ImageRef struct {
	Key    string `json:"key"`
	Source string `json:"source"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type Chart struct {
	Type   string    `json:"type"`
	Labels []string  `json:"labels,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

type Slide struct {
	SlideNumber      int        `json:"slide_number"`
	Title            string     `json:"title"`
	KeyPoints        []string   `json:"key_points,omitempty"`
	Content          string     `json:"content,omitempty"`
	SpeakerNotes     string     `json:"speaker_notes,omitempty"`
	LayoutType       string     `json:"layout_type,omitempty"`
	Images           []ImageRef `json:"images,omitempty"`
	Charts           []Chart    `json:"charts,omitempty"`
	GenerationFailed bool       `json:"generation_failed,omitempty"`
	GenerationError  string     `json:"generation_error,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Result struct {
	Formats     map[string]string `json:"formats"`
	DownloadKey string            `json:"download_key,omitempty"`
	DownloadURL string            `json:"download_url,omitempty"`
	SlideCount  int               `json:"slide_count"`
	FileSize    int64             `json:"file_size"`
	CompletedAt time.Time         `json:"completed_at"`
}

type TaskError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

type Task struct {
	ID              string
	Status          TaskStatus
	Progress        int
	Stage           Stage
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	Metadata        Request
	SlidesCompleted int
	SlidesTotal     int
	ImagesCompleted int
	ImagesTotal     int
	Slides          []Slide
	Result          *Result
	Error           *TaskError
	Version         string
	TTL             int64
}

type Checkpoint struct {
	TaskID         string    `json:"task_id"`
	CheckpointType Stage     `json:"checkpoint_type"`
	Data           []byte    `json:"data,omitempty"`
	DataKey        string    `json:"data_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	TTL            int64     `json:"ttl"`
}
