package generator

import (
	"context"
	"errors"
	"net/http"

	"github.com/ollama/ollama/api"

	"presentationGenerator/models"
)

// Classify maps a backend error to Transient or Fatal. Timeouts, throttling,
// server errors and network failures are transient; other client errors,
// unsupported capabilities and malformed output are fatal.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return ""
	}

	var classified *models.Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var malformed *MalformedError
	if errors.As(err, &malformed) || errors.Is(err, ErrUnsupportedCapability) {
		return models.KindFatal
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return models.KindFatal
	}

	var status api.StatusError
	if errors.As(err, &status) {
		return classifyStatus(status.StatusCode)
	}

	// network failures and anything unrecognised get another attempt
	return models.KindTransient
}

// Retryable is Classify reduced to the predicate retry.Policy.Do expects.
func Retryable(err error) bool {
	return Classify(err) == models.KindTransient
}

func classifyStatus(code int) models.ErrorKind {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return models.KindTransient
	case code >= 500:
		return models.KindTransient
	case code >= 400:
		return models.KindFatal
	}
	return models.KindTransient
}
