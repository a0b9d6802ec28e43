package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Client calls an HTTP speech-analysis endpoint. The audio artifact is sent
// as multipart/form-data under the "audio" field; the response carries the
// transcript, corrected text, disfluency counts, word frequencies, and
// recommendations.
type Client struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewClient creates an analysis HTTP client.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "http" }

// Analyze posts the audio artifact and decodes the analysis payload.
func (c *Client) Analyze(ctx context.Context, audio []byte, filename string) (*Result, error) {
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %v: %w", err, ErrCollaborator)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, ErrCollaborator)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(body), ErrCollaborator)
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %v: %w", err, ErrCollaborator)
	}

	return &result, nil
}
