package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"presentationGenerator/models"
)

// Item is a task record in the store's wire format: a flat attribute map
// whose nested values are JSON documents.
type Item map[string]any

const (
	AttrTaskID          = "task_id"
	AttrStatus          = "status"
	AttrProgress        = "progress"
	AttrStage           = "stage"
	AttrCreatedAt       = "created_at"
	AttrUpdatedAt       = "updated_at"
	AttrCompletedAt     = "completed_at"
	AttrMetadata        = "metadata"
	AttrSlidesCompleted = "slides_completed"
	AttrSlidesTotal     = "slides_total"
	AttrImagesCompleted = "images_completed"
	AttrImagesTotal     = "images_total"
	AttrSlides          = "slides"
	AttrResult          = "result"
	AttrError           = "error"
	AttrVersion         = "version"
	AttrTTL             = "ttl"
)

// BaseFields are always enough to learn what a task is doing.
var BaseFields = []string{AttrTaskID, AttrStatus, AttrProgress, AttrStage, AttrCreatedAt, AttrUpdatedAt}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ToItem converts a task into its wire attributes. Optional attributes are
// left out when unset.
func ToItem(t *models.Task) (Item, error) {
	item := Item{
		AttrTaskID:          t.ID,
		AttrStatus:          string(t.Status),
		AttrProgress:        t.Progress,
		AttrStage:           string(t.Stage),
		AttrCreatedAt:       formatTime(t.CreatedAt),
		AttrUpdatedAt:       formatTime(t.UpdatedAt),
		AttrMetadata:        t.Metadata,
		AttrSlidesCompleted: t.SlidesCompleted,
		AttrSlidesTotal:     t.SlidesTotal,
		AttrImagesCompleted: t.ImagesCompleted,
		AttrImagesTotal:     t.ImagesTotal,
		AttrVersion:         t.Version,
		AttrTTL:             t.TTL,
	}
	if t.CompletedAt != nil {
		item[AttrCompletedAt] = formatTime(*t.CompletedAt)
	}
	if t.Slides != nil {
		item[AttrSlides] = t.Slides
	}
	if t.Result != nil {
		item[AttrResult] = t.Result
	}
	if t.Error != nil {
		item[AttrError] = t.Error
	}
	return normalize(item)
}

// FromItem converts wire attributes into a task. Attributes missing from the
// item leave their fields at the zero value, which is how projected reads
// come back.
func FromItem(item Item) (*models.Task, error) {
	t := &models.Task{}

	var err error
	if t.ID, err = stringAttr(item, AttrTaskID); err != nil {
		return nil, err
	}
	status, err := stringAttr(item, AttrStatus)
	if err != nil {
		return nil, err
	}
	if status != "" {
		if t.Status, err = models.ParseStatus(status); err != nil {
			return nil, err
		}
	}
	stage, err := stringAttr(item, AttrStage)
	if err != nil {
		return nil, err
	}
	if stage != "" {
		if t.Stage, err = models.ParseStage(stage); err != nil {
			return nil, err
		}
	}
	if t.Version, err = stringAttr(item, AttrVersion); err != nil {
		return nil, err
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{AttrProgress, &t.Progress},
		{AttrSlidesCompleted, &t.SlidesCompleted},
		{AttrSlidesTotal, &t.SlidesTotal},
		{AttrImagesCompleted, &t.ImagesCompleted},
		{AttrImagesTotal, &t.ImagesTotal},
	}
	for _, f := range ints {
		n, err := intAttr(item, f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = int(n)
	}
	if t.TTL, err = intAttr(item, AttrTTL); err != nil {
		return nil, err
	}

	t.CreatedAt = timeAttr(item, AttrCreatedAt)
	t.UpdatedAt = timeAttr(item, AttrUpdatedAt)
	if completedAt := timeAttr(item, AttrCompletedAt); !completedAt.IsZero() {
		t.CompletedAt = &completedAt
	}

	if err := docAttr(item, AttrMetadata, &t.Metadata); err != nil {
		return nil, err
	}
	if err := docAttr(item, AttrSlides, &t.Slides); err != nil {
		return nil, err
	}
	if _, ok := item[AttrResult]; ok && item[AttrResult] != nil {
		t.Result = &models.Result{}
		if err := docAttr(item, AttrResult, t.Result); err != nil {
			return nil, err
		}
	}
	if _, ok := item[AttrError]; ok && item[AttrError] != nil {
		t.Error = &models.TaskError{}
		if err := docAttr(item, AttrError, t.Error); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// normalize round-trips the item through JSON so that every store holds the
// same value types regardless of how the item was built.
func normalize(item Item) (Item, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	var out Item
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return out, nil
}

func stringAttr(item Item, name string) (string, error) {
	v, ok := item[name]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %s: expected string, got %T", name, v)
	}
	return s, nil
}

func intAttr(item Item, name string) (int64, error) {
	v, ok := item[name]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("attribute %s: expected number, got %T", name, v)
}

// timeAttr reads an RFC 3339 timestamp. Timestamps are informational, so a
// value that does not parse reads as absent.
func timeAttr(item Item, name string) time.Time {
	s, err := stringAttr(item, name)
	if err != nil || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func docAttr(item Item, name string, dst any) error {
	v, ok := item[name]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("attribute %s: %w", name, err)
	}
	return nil
}
