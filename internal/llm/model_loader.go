package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"docsearch/internal/contextutil"
)

// EmbeddingModelArgs are the router arguments for serving a model as a
// mean-pooled embedding model.
var EmbeddingModelArgs = []string{"--embeddings", "--pooling", "mean"}

var (
	// ErrModelLoadFailed is returned when the router reports that the model
	// process exited.
	ErrModelLoadFailed = errors.New("model load failed")
	// ErrModelLoadTimeout is returned when the model is not cached after
	// the polling budget is spent.
	ErrModelLoadTimeout = errors.New("model did not load in time")
)

// ModelLoader asks a llama.cpp router to start a model and waits for it.
type ModelLoader struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	maxAttempts  int
}

func NewModelLoader(baseURL string) *ModelLoader {
	return &ModelLoader{
		baseURL:      baseURL,
		client:       newHTTPClient(),
		pollInterval: time.Second,
		maxAttempts:  60,
	}
}

// LoadModelRequest is the /models/load payload.
type LoadModelRequest struct {
	Model     string   `json:"model"`
	ExtraArgs []string `json:"extra_args,omitempty"`
}

// LoadModelResponse is the /models/load reply.
type LoadModelResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ModelStatus is one entry of the /models listing.
type ModelStatus struct {
	ID      string `json:"id"`
	InCache bool   `json:"in_cache"`
	Status  struct {
		Value    string `json:"value"`
		ExitCode *int   `json:"exit_code,omitempty"`
		Failed   *bool  `json:"failed,omitempty"`
	} `json:"status"`
}

func (s *ModelStatus) failed() bool {
	return s.Status.Failed != nil && *s.Status.Failed
}

// ModelsResponse is the /models listing.
type ModelsResponse struct {
	Data []ModelStatus `json:"data"`
}

// lookup returns the router's entry for name, or nil when it is not listed.
func (ml *ModelLoader) lookup(ctx context.Context, name string) (*ModelStatus, error) {
	var listing ModelsResponse
	if err := call(ctx, ml.client, http.MethodGet, ml.baseURL+"/models", "", nil, &listing); err != nil {
		return nil, fmt.Errorf("failed to check model status: %w", err)
	}
	for i := range listing.Data {
		if listing.Data[i].ID == name {
			return &listing.Data[i], nil
		}
	}
	return nil, nil
}

// IsModelLoaded reports whether the router has name in cache.
func (ml *ModelLoader) IsModelLoaded(ctx context.Context, name string) (bool, error) {
	st, err := ml.lookup(ctx, name)
	if err != nil {
		return false, err
	}
	return st != nil && st.InCache, nil
}

// LoadModel requests name with extraArgs and blocks until the router has it
// cached. A model that is already cached is left alone.
func (ml *ModelLoader) LoadModel(ctx context.Context, name string, extraArgs []string) error {
	logger := contextutil.LoggerFromContext(ctx)

	loaded, err := ml.IsModelLoaded(ctx, name)
	switch {
	case err != nil:
		logger.DebugContext(ctx, "model status check failed", "model", name, "error", err)
	case loaded:
		return nil
	}

	var resp LoadModelResponse
	req := LoadModelRequest{Model: name, ExtraArgs: extraArgs}
	if err := call(ctx, ml.client, http.MethodPost, ml.baseURL+"/models/load", "", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrModelLoadFailed, resp.Error)
	}
	logger.InfoContext(ctx, "model load requested", "model", name, "extra_args", extraArgs)

	if err := ml.waitCached(ctx, name); err != nil {
		return err
	}
	logger.InfoContext(ctx, "model loaded", "model", name)
	return nil
}

// waitCached polls /models until name is cached, reported failed, or the
// attempt budget runs out. Poll errors count as a miss.
func (ml *ModelLoader) waitCached(ctx context.Context, name string) error {
	ticker := time.NewTicker(ml.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < ml.maxAttempts; attempt++ {
		if st, err := ml.lookup(ctx, name); err == nil && st != nil {
			if st.InCache {
				return nil
			}
			if st.failed() {
				code := 0
				if st.Status.ExitCode != nil {
					code = *st.Status.ExitCode
				}
				return fmt.Errorf("%w: exit code %d", ErrModelLoadFailed, code)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrModelLoadTimeout
}
