package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-3-small"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// single-vector reply shape returned by Ollama.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	dimension  atomic.Int64
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// Dimensions is forwarded to models that support shortened vectors.
	Dimensions int
	// RequestsPerSecond enables client-side throttling when positive.
	RequestsPerSecond float64
	MaxRetries        int
}

// NewClient creates a new embeddings client using the provided configuration.
// An API key is only required when talking to the public OpenAI endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" && cfg.BaseURL == DefaultBaseURL {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.Dimensions > 0 {
		c.dimension.Store(int64(cfg.Dimensions))
	}
	return c, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai-" + c.model }

// Dimension returns the vector length, learned from the first response
// unless configured explicitly.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

type embeddingRequest struct {
	Input      any    `json:"input"`
	Prompt     string `json:"prompt,omitempty"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	// Ollama-native shape.
	Embedding []float32 `json:"embedding"`
}

// errPermanent marks responses that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body := embeddingRequest{Input: texts, Model: c.model, Dimensions: c.dimensions}
	if len(texts) == 1 {
		body.Input = texts[0]
		body.Prompt = texts[0]
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("openai embeddings retry %d after: %v", attempt, lastErr)
		}
		vecs, wait, err := c.do(ctx, data, len(texts))
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) || ctx.Err() != nil || attempt == c.maxRetries {
			break
		}
		if wait == 0 {
			wait = retryDelay(attempt)
		}
		if err := sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, lastErr)
}

// do performs one request. The returned duration is a server-requested
// backoff from Retry-After, zero when absent.
func (c *Client) do(ctx context.Context, payload []byte, want int) ([][]float32, time.Duration, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		return nil, wait, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, 0, fmt.Errorf("%w: openai embeddings failed: %s: %s", errPermanent, resp.Status, bytes.TrimSpace(msg))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	var out embeddingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	var vecs [][]float32
	switch {
	case len(out.Data) > 0:
		sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
		for _, d := range out.Data {
			vecs = append(vecs, d.Embedding)
		}
	case len(out.Embedding) > 0:
		vecs = [][]float32{out.Embedding}
	}
	if len(vecs) != want {
		return nil, 0, fmt.Errorf("%w: got %d embeddings for %d inputs", errPermanent, len(vecs), want)
	}
	dim := len(vecs[0])
	for _, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return nil, 0, fmt.Errorf("%w: inconsistent embedding lengths", errPermanent)
		}
	}
	c.dimension.CompareAndSwap(0, int64(dim))
	return vecs, 0, nil
}

const (
	maxBackoff = 5 * time.Second
	// maxRetryAfter caps a server-requested wait.
	maxRetryAfter = 30 * time.Second
)

// retryAfter parses a Retry-After seconds value. Invalid or non-positive
// values yield zero so the caller falls back to its own backoff.
func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	if secs > int(maxRetryAfter/time.Second) {
		return maxRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 200ms << 5 already exceeds the cap; larger shifts would overflow.
	if attempt > 5 {
		return maxBackoff
	}
	return min(200*time.Millisecond<<attempt, maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
