// Package generator wraps the generative model behind a single Invoke call
// per capability.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Capability string

const (
	CapabilityOutline Capability = "outline"
	CapabilityContent Capability = "content"
	CapabilityImage   Capability = "image"
	CapabilityNotes   Capability = "notes"
)

// Structured reports whether the capability answers with a JSON document.
func (c Capability) Structured() bool {
	switch c {
	case CapabilityOutline, CapabilityContent:
		return true
	case CapabilityImage, CapabilityNotes:
		return false
	}
	return false
}

var ErrUnsupportedCapability = errors.New("generator: capability not supported")

type Request struct {
	Capability Capability
	Prompt     string
	System     string
	Params     map[string]any
}

type Response struct {
	Text  string
	Image []byte
}

type Backend interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (Response, error)

func (f BackendFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// WithTimeout bounds every Invoke on b by d. A call that runs out of time
// fails with context.DeadlineExceeded, which Classify treats as transient.
// d <= 0 returns b unchanged.
func WithTimeout(b Backend, d time.Duration) Backend {
	if d <= 0 {
		return b
	}
	return BackendFunc(func(ctx context.Context, req Request) (Response, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return b.Invoke(ctx, req)
	})
}

// MalformedError reports output that could not be parsed into the expected
// shape. It is never retried.
type MalformedError struct {
	Capability Capability
	Err        error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s output: %v", e.Capability, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }
