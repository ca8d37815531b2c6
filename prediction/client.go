// Package prediction talks to the external prediction service that scores a case and
// writes game plans.
package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/models"
)

// Kind selects which prediction endpoint a request goes to
type Kind string

// Request kinds
const (
	KindAnalysis Kind = "analysis"
	KindGamePlan Kind = "game_plan"
)

// ErrNotConfigured is returned when no URL is set for the requested kind
var ErrNotConfigured = errors.New("prediction service is not configured")

// UpstreamError is a failed handshake with the prediction service
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("prediction service unreachable: %v", e.Err)
	}
	return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Streamer opens a prediction run
type Streamer interface {
	Open(ctx context.Context, kind Kind, req models.PredictionRequest) (*Stream, error)
}

// Client is the HTTP client for the prediction service
type Client struct {
	HTTP        *http.Client
	AnalysisURL string
	GamePlanURL string
	APIKey      string
}

// NewClient creates a Client from conf. The timeout bounds a whole run, body included.
func NewClient(conf *config.Config) *Client {
	return &Client{
		HTTP:        &http.Client{Timeout: conf.PredictionTimeout},
		AnalysisURL: conf.PredictionURL,
		GamePlanURL: conf.GamePlanURL,
		APIKey:      conf.PredictionAPIKey,
	}
}

func (c *Client) url(kind Kind) string {
	if kind == KindGamePlan {
		return c.GamePlanURL
	}
	return c.AnalysisURL
}

// Open posts req and returns the reply as a Stream. A non-2xx status is an *UpstreamError.
func (c *Client) Open(ctx context.Context, kind Kind, req models.PredictionRequest) (*Stream, error) {
	url := c.url(kind)
	if url == "" {
		return nil, &UpstreamError{Err: ErrNotConfigured}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, text/event-stream, application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		zap.S().Warnw("prediction service refused request",
			"kind", kind,
			"status", resp.StatusCode)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return &Stream{
		body:   resp.Body,
		dec:    NewDecoder(resp.Body),
		single: mediaType == "application/json",
	}, nil
}

// Stream yields the frames of one prediction reply
type Stream struct {
	body   io.ReadCloser
	dec    *Decoder
	single bool
	done   bool
}

// NewStream wraps an already open reply body. single marks a plain JSON reply.
func NewStream(body io.ReadCloser, single bool) *Stream {
	return &Stream{body: body, dec: NewDecoder(body), single: single}
}

// Next returns the next frame, or io.EOF after the last one
func (s *Stream) Next() (models.StreamEvent, error) {
	if !s.single {
		return s.dec.Next()
	}
	if s.done {
		return models.StreamEvent{}, io.EOF
	}
	s.done = true

	raw, err := io.ReadAll(io.LimitReader(s.body, MaxFrameSize+1))
	if err != nil {
		return models.StreamEvent{}, fmt.Errorf("failed to read prediction reply: %w", err)
	}
	if len(raw) > MaxFrameSize {
		return models.StreamEvent{}, fmt.Errorf("%w: reply exceeds %d bytes", ErrStreamDecode, MaxFrameSize)
	}
	return singleFrame(bytes.TrimSpace(raw))
}

// Close releases the connection
func (s *Stream) Close() error {
	return s.body.Close()
}

// singleFrame turns a plain JSON reply into one frame. A reply without a type is the
// result itself.
func singleFrame(raw []byte) (models.StreamEvent, error) {
	ev, err := decodeFrame(raw)
	if err != nil {
		return ev, err
	}
	if ev.Type != "" {
		return ev, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.StreamEvent{}, fmt.Errorf("%w: %v", ErrStreamDecode, err)
	}
	ev = models.StreamEvent{Type: models.EventTypeComplete, Result: result}
	wrapped, err := json.Marshal(ev)
	if err != nil {
		return models.StreamEvent{}, err
	}
	ev.Raw = wrapped
	return ev, nil
}
