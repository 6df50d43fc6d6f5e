package validation

import "presentationGenerator/models"

var (
	ErrTopicRequired     = models.ValidationError(models.CodeInvalidRequest, "topic is required")
	ErrTopicTooLong      = models.ValidationError(models.CodeInvalidRequest, "topic exceeds 500 characters")
	ErrSlideCount        = models.ValidationError(models.CodeInvalidRequest, "slide_count must be between 1 and 50")
	ErrUnsupportedFormat = models.ValidationError(models.CodeInvalidRequest, "unsupported output format")
	ErrEmptyPatch        = models.ValidationError(models.CodeInvalidRequest, "patch has no fields")
	ErrTitleEmpty        = models.ValidationError(models.CodeInvalidRequest, "title must not be empty")
	ErrLayoutUnknown     = models.ValidationError(models.CodeInvalidRequest, "unknown layout_type")
	ErrContentEmpty      = models.ValidationError(models.CodeContentEmpty, "content must not be empty")
	ErrContentTooLarge   = models.ValidationError(models.CodeContentTooLarge, "patch exceeds 10000 bytes")
	ErrSlideOutOfRange   = models.ValidationError(models.CodeSlideOutOfRange, "slide_number is out of range")
)
