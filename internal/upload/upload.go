// Package upload pushes accepted frames to the media host and returns their
// public URI.
package upload

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
	"net/textproto"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/hairscan/internal/metrics"
)

var (
	// ErrInvalidFrame indicates the local frame is missing, unreadable or
	// not an image.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrUpload indicates the media host did not store the asset.
	ErrUpload = errors.New("upload failed")
)

const maxResponseBytes = 1 << 20

// Asset is one accepted frame to store.
type Asset struct {
	OwnerID    string
	AnalysisID string
	Name       string // e.g. "image1.jpg"
	Path       string // local frame path
}

// Folder is the storage folder for the asset, namespaced by owner and analysis.
func (a Asset) Folder() string {
	return a.OwnerID + "/" + a.AnalysisID
}

// Uploader stores an asset and returns a stable reference URI.
type Uploader interface {
	Upload(ctx context.Context, a Asset) (string, error)
}

// Client uploads assets with an unsigned multipart POST.
type Client struct {
	url        string
	preset     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// Compile-time check that Client implements Uploader.
var _ Uploader = (*Client)(nil)

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

// WithMetrics records upload timings in the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates an upload client posting to url with the given preset.
func NewClient(url, preset string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		preset:     preset,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload posts the frame with its preset and folder and returns secure_url.
func (c *Client) Upload(ctx context.Context, a Asset) (string, error) {
	start := time.Now()
	url, err := c.upload(ctx, a)
	duration := time.Since(start)

	if c.metrics != nil {
		if err != nil {
			c.metrics.RecordFailure(metrics.OpUpload, duration)
		} else {
			c.metrics.RecordTiming(metrics.OpUpload, duration)
		}
	}
	if err != nil {
		c.logger.Warn("upload failed", "folder", a.Folder(), "name", a.Name, "duration_ms", duration.Milliseconds(), "error", err)
		return "", err
	}
	c.logger.Info("asset uploaded", "folder", a.Folder(), "name", a.Name, "url", url, "duration_ms", duration.Milliseconds())
	return url, nil
}

func (c *Client) upload(ctx context.Context, a Asset) (string, error) {
	if a.OwnerID == "" || a.AnalysisID == "" {
		return "", fmt.Errorf("%w: owner and analysis id are required", ErrUpload)
	}

	frame, err := os.ReadFile(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(frame) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidFrame, a.Path)
	}
	contentType := http.DetectContentType(frame)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %s is %s", ErrInvalidFrame, a.Path, contentType)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(frame); err != nil {
		return "", fmt.Errorf("write file part: %w", err)
	}
	if err := w.WriteField("upload_preset", c.preset); err != nil {
		return "", fmt.Errorf("write preset: %w", err)
	}
	if err := w.WriteField("folder", a.Folder()); err != nil {
		return "", fmt.Errorf("write folder: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpload, err)
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %s: unmarshal response: %v", ErrUpload, resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("%w: %s - %s", ErrUpload, resp.Status, msg)
	}
	if out.SecureURL == "" {
		return "", fmt.Errorf("%w: response has no secure_url", ErrUpload)
	}
	return out.SecureURL, nil
}
