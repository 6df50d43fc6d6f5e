package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

type OllamaConfig struct {
	Host         string
	DefaultModel string
	// Models overrides the model per capability.
	Models map[Capability]string
}

// OllamaBackend drives text capabilities through a local or remote Ollama
// server. Image generation is not available there.
type OllamaBackend struct {
	client *api.Client
	cfg    OllamaConfig
	logger *zap.Logger
}

func NewOllamaBackend(cfg OllamaConfig, httpClient *http.Client, logger *zap.Logger) (*OllamaBackend, error) {
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaBackend{
		client: api.NewClient(base, httpClient),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (b *OllamaBackend) model(c Capability) string {
	if m, ok := b.cfg.Models[c]; ok && m != "" {
		return m
	}
	return b.cfg.DefaultModel
}

func (b *OllamaBackend) Invoke(ctx context.Context, req Request) (Response, error) {
	if req.Capability == CapabilityImage {
		return Response{}, fmt.Errorf("ollama %s: %w", req.Capability, ErrUnsupportedCapability)
	}

	stream := false
	genReq := &api.GenerateRequest{
		Model:   b.model(req.Capability),
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: req.Params,
	}
	if req.Capability.Structured() {
		genReq.Format = json.RawMessage(`"json"`)
	}

	var out strings.Builder
	err := b.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		b.logger.Debug("Ollama generate failed",
			zap.String("capability", string(req.Capability)),
			zap.String("model", genReq.Model),
			zap.Error(err),
		)
		return Response{}, fmt.Errorf("ollama %s: %w", req.Capability, err)
	}

	text := strings.TrimSpace(out.String())
	if req.Capability.Structured() && !json.Valid([]byte(text)) {
		return Response{}, &MalformedError{Capability: req.Capability, Err: fmt.Errorf("response is not valid JSON")}
	}
	return Response{Text: text}, nil
}
