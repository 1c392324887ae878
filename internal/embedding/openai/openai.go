package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrDimension is returned when the provider answers with a vector of the wrong size.
var ErrDimension = errors.New("embedding dimension mismatch")

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	client     *openai.Client
	model      string
	dimension  int
	maxRetries int
	baseDelay  time.Duration
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Client{
		client:     openai.NewClientWithConfig(oc),
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: 5,
		baseDelay:  200 * time.Millisecond,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text, retrying rate
// limits and server errors with exponential backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dimension,
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.retryDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if retryable(ctx, err) {
				continue
			}
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, errors.New("no embedding returned")
		}
		src := resp.Data[0].Embedding
		if len(src) != c.dimension {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(src), c.dimension)
		}
		v := make([]float32, len(src))
		for i := range src {
			v[i] = float32(src[i])
		}
		return v, nil
	}
	return nil, fmt.Errorf("openai embeddings failed after %d retries: %w", c.maxRetries, lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// transport failure
	return true
}

func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// exponential backoff capped at 5s
	d := c.baseDelay << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
