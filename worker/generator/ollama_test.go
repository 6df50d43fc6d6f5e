package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"presentationGenerator/models"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *OllamaBackend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend, err := NewOllamaBackend(OllamaConfig{
		Host:         server.URL,
		DefaultModel: "llama3",
		Models:       map[Capability]string{CapabilityNotes: "llama3-small"},
	}, server.Client(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return backend
}

func TestOllamaBackend_StructuredRequest(t *testing.T) {
	var got map[string]any
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"llama3","response":"{\"slides\":[]}","done":true}` + "\n"))
	})

	resp, err := backend.Invoke(context.Background(), Request{
		Capability: CapabilityOutline,
		Prompt:     "Solar power",
		System:     "You write outlines",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"slides":[]}`, resp.Text)

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, "json", got["format"])
	assert.Equal(t, false, got["stream"])
	assert.Equal(t, "You write outlines", got["system"])
}

func TestOllamaBackend_TextUsesCapabilityModel(t *testing.T) {
	var got map[string]any
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"model":"llama3-small","response":"Open with a question.","done":true}` + "\n"))
	})

	resp, err := backend.Invoke(context.Background(), Request{Capability: CapabilityNotes, Prompt: "notes"})
	require.NoError(t, err)
	assert.Equal(t, "Open with a question.", resp.Text)
	assert.Equal(t, "llama3-small", got["model"])
	assert.NotContains(t, got, "format")
}

func TestOllamaBackend_MalformedJSONIsFatal(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"llama3","response":"sure, here is an outline","done":true}` + "\n"))
	})

	_, err := backend.Invoke(context.Background(), Request{Capability: CapabilityContent, Prompt: "x"})
	require.Error(t, err)
	var malformed *MalformedError
	assert.True(t, errors.As(err, &malformed))
	assert.Equal(t, models.KindFatal, Classify(err))
}

func TestOllamaBackend_ImageUnsupported(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("image requests must not reach the server")
	})

	_, err := backend.Invoke(context.Background(), Request{Capability: CapabilityImage})
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
	assert.Equal(t, models.KindFatal, Classify(err))
}

func TestOllamaBackend_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   models.ErrorKind
	}{
		{"throttled", http.StatusTooManyRequests, models.KindTransient},
		{"unavailable", http.StatusServiceUnavailable, models.KindTransient},
		{"request timeout", http.StatusRequestTimeout, models.KindTransient},
		{"bad request", http.StatusBadRequest, models.KindFatal},
		{"not found", http.StatusNotFound, models.KindFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte("{}\n"))
			})

			_, err := backend.Invoke(context.Background(), Request{Capability: CapabilityNotes})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
			assert.Equal(t, tt.want == models.KindTransient, Retryable(err))
		})
	}
}

func TestOllamaBackend_DeadlineIsTransient(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := backend.Invoke(ctx, Request{Capability: CapabilityNotes})
	require.Error(t, err)
	assert.Equal(t, models.KindTransient, Classify(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, models.ErrorKind(""), Classify(nil))
	assert.Equal(t, models.KindValidation, Classify(models.ValidationError(models.CodeInvalidRequest, "bad")))
	assert.Equal(t, models.KindFatal, Classify(context.Canceled))
	assert.Equal(t, models.KindTransient, Classify(errors.New("connection reset")))
}

func TestWithTimeout_BoundsEachCall(t *testing.T) {
	hung := BackendFunc(func(ctx context.Context, req Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	})

	start := time.Now()
	_, err := WithTimeout(hung, 20*time.Millisecond).Invoke(context.Background(), Request{Capability: CapabilityImage})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, Retryable(err))
	assert.Less(t, time.Since(start), time.Second)

	fast := BackendFunc(func(ctx context.Context, req Request) (Response, error) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return Response{Text: "ok"}, nil
	})
	resp, err := WithTimeout(fast, time.Second).Invoke(context.Background(), Request{Capability: CapabilityNotes})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	same := WithTimeout(hung, 0)
	_, ok := same.(BackendFunc)
	assert.True(t, ok)
}
