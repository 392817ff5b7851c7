// Package client talks to a running ragapi HTTP server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"ragapi/internal/domain"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
}

// Unwrap maps the status code back to the pipeline sentinel.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return domain.ErrValidation
	case http.StatusRequestEntityTooLarge:
		return domain.ErrPayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return domain.ErrUnsupportedFormat
	case http.StatusNotFound:
		return domain.ErrNoIndex
	case http.StatusConflict:
		return domain.ErrDimensionMismatch
	case http.StatusServiceUnavailable:
		return domain.ErrEmbeddingUnavailable
	case http.StatusBadGateway:
		return domain.ErrVectorStoreWrite
	}
	return nil
}

// Client is a domain.Pipeline over HTTP.
type Client struct {
	base string
	http *http.Client
}

var _ domain.Pipeline = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type ingestResponse struct {
	SourceID     string `json:"source_id"`
	UnitsCreated int    `json:"units_created"`
	UnitsWritten int    `json:"units_written"`
}

func (c *Client) Ingest(ctx context.Context, doc domain.Document) (domain.IngestResult, error) {
	name := doc.Filename
	if name == "" {
		name = "document.txt"
	}
	return c.IngestFile(ctx, domain.FileInput{Filename: name, SourceID: doc.SourceID, Body: strings.NewReader(doc.Content)})
}

// IngestFile uploads in as multipart/form-data.
func (c *Client) IngestFile(ctx context.Context, in domain.FileInput) (domain.IngestResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if in.SourceID != "" {
		if err := mw.WriteField("source_id", in.SourceID); err != nil {
			return domain.IngestResult{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", in.Filename)
	if err != nil {
		return domain.IngestResult{}, err
	}
	if _, err := io.Copy(fw, in.Body); err != nil {
		return domain.IngestResult{}, fmt.Errorf("reading %s: %w", in.Filename, err)
	}
	if err := mw.Close(); err != nil {
		return domain.IngestResult{}, err
	}

	var out ingestResponse
	if err := c.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), &buf, &out); err != nil {
		return domain.IngestResult{}, err
	}
	return domain.IngestResult{SourceID: out.SourceID, UnitsCreated: out.UnitsCreated, UnitsWritten: out.UnitsWritten}, nil
}

type queryResponse struct {
	Response    string `json:"response"`
	SourceNodes []struct {
		Text     string  `json:"text"`
		Score    float64 `json:"score"`
		SourceID string  `json:"source_id"`
		Index    int     `json:"index"`
	} `json:"source_nodes"`
}

func (c *Client) Query(ctx context.Context, q domain.Query, topK int) (domain.Answer, error) {
	body, err := json.Marshal(map[string]any{"text": q.Text, "top_k": topK})
	if err != nil {
		return domain.Answer{}, err
	}
	var out queryResponse
	if err := c.do(ctx, http.MethodPost, "/query", "application/json", bytes.NewReader(body), &out); err != nil {
		return domain.Answer{}, err
	}
	ans := domain.Answer{Response: out.Response, Matches: make([]domain.Match, len(out.SourceNodes))}
	for i, n := range out.SourceNodes {
		ans.Matches[i] = domain.Match{Text: n.Text, Score: n.Score, SourceID: n.SourceID, Index: n.Index}
	}
	return ans, nil
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/index", "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Detail: e.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
