// Package verify submits captured frames to the remote analysis service and
// normalizes its answers into a single boolean verdict.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/hairscan/internal/metrics"
	"github.com/raphaelgruber/hairscan/internal/steps"
)

// Failure causes carried in Verdict.Err. A verdict with Err set is always
// negative.
var (
	ErrNoFrame         = errors.New("no frame to verify")
	ErrTransport       = errors.New("verification request failed")
	ErrBadResponse     = errors.New("verification response is not JSON")
	ErrMissingVerdict  = errors.New("verification response has no boolean verdict")
	ErrServiceRejected = errors.New("verification service returned an error status")

	// ErrFatal marks causes that retrying will not fix. Sessions stop on it.
	ErrFatal = errors.New("verifier cannot serve requests")
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Request is one frame to verify for one step.
type Request struct {
	Step    steps.Definition
	Frame   string // local path of the captured frame
	Overlay string // local path of the reference overlay, optional
}

// Verdict is the normalized outcome of one verification round trip.
type Verdict struct {
	Accepted bool
	// Metrics holds every other response field (pitch, roll, head_ratio, ...)
	// untouched for display.
	Metrics  map[string]any
	Err      error
	Duration time.Duration
}

// Verifier returns a verdict for a frame. Implementations never return an
// error; failures produce a negative verdict with Err set.
type Verifier interface {
	Verify(ctx context.Context, req Request) Verdict
}

// Client verifies frames against the HTTP analysis service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Compile-time check that Client implements Verifier.
var _ Verifier = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithMetrics records verification timings in the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a verification client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify posts the frame (and overlay, if the step uses one) to the step's
// endpoint and extracts the step's verdict field. It fails closed.
func (c *Client) Verify(ctx context.Context, req Request) Verdict {
	start := time.Now()
	v := c.verify(ctx, req)
	v.Duration = time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpVerify, v.Duration)
	}

	attrs := []any{
		"step", req.Step.Ordinal,
		"endpoint", req.Step.Endpoint.Path,
		"accepted", v.Accepted,
		"duration_ms", v.Duration.Milliseconds(),
	}
	if v.Err != nil {
		c.logger.Warn("verification failed", append(attrs, "error", v.Err)...)
	} else {
		c.logger.Debug("verification complete", attrs...)
	}
	return v
}

func (c *Client) verify(ctx context.Context, req Request) Verdict {
	if req.Frame == "" {
		return Verdict{Err: ErrNoFrame}
	}

	body, contentType, err := buildForm(req)
	if err != nil {
		return Verdict{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+req.Step.Endpoint.Path, body)
	if err != nil {
		return Verdict{Err: fmt.Errorf("%w: create request: %v", ErrTransport, err)}
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Verdict{Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Verdict{Err: fmt.Errorf("%w: read response: %v", ErrTransport, err)}
	}

	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Verdict{Err: fmt.Errorf("%w: %v", ErrBadResponse, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := fields["error"].(string)
		err := fmt.Errorf("%w: %s %s", ErrServiceRejected, resp.Status, msg)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			err = fmt.Errorf("%w: %w", ErrFatal, err)
		}
		return Verdict{Metrics: fields, Err: err}
	}

	return Normalize(fields, req.Step.Endpoint.VerdictField)
}

// Normalize extracts the verdict field from a decoded response. The field
// must be a JSON boolean; anything else is a negative verdict.
func Normalize(fields map[string]any, verdictField string) Verdict {
	raw, ok := fields[verdictField]
	if !ok {
		return Verdict{Metrics: fields, Err: fmt.Errorf("%w: field %q absent", ErrMissingVerdict, verdictField)}
	}
	accepted, ok := raw.(bool)
	if !ok {
		return Verdict{Metrics: fields, Err: fmt.Errorf("%w: field %q is %T", ErrMissingVerdict, verdictField, raw)}
	}

	rest := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != verdictField {
			rest[k] = v
		}
	}
	return Verdict{Accepted: accepted, Metrics: rest}
}

func buildForm(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := addFile(w, req.Step.Endpoint.FrameField, req.Frame); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	if req.Overlay != "" && req.Step.Endpoint.OverlayField != "" {
		if err := addFile(w, req.Step.Endpoint.OverlayField, req.Overlay); err != nil {
			return nil, "", fmt.Errorf("attach overlay: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func addFile(w *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
