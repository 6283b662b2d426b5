// Package camera provides frame sources for the capture session.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotReady indicates the device cannot produce a frame right now.
	ErrNotReady = errors.New("camera not ready")

	// ErrNoFrames indicates a frame directory holds no images.
	ErrNoFrames = errors.New("no frames available")
)

// Options controls one capture.
type Options struct {
	// Mirror flips the frame horizontally (front camera correction).
	Mirror bool
}

// Camera captures one frame and returns the local path of a JPEG file.
type Camera interface {
	Capture(ctx context.Context, opts Options) (string, error)
}

// frameExts are the file types DirCamera replays.
var frameExts = []string{".jpg", ".jpeg", ".png"}

// DirCamera replays the images of a directory in name order, wrapping around.
// Each capture writes a fresh copy into the output directory so the
// caller owns the returned file.
type DirCamera struct {
	frames []string
	outDir string
	logger *slog.Logger

	mu   sync.Mutex
	next int
}

// NewDirCamera lists the frames in dir and writes captures to outDir.
func NewDirCamera(dir, outDir string, logger *slog.Logger) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(frameExts, strings.ToLower(filepath.Ext(e.Name()))) {
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	slices.Sort(frames)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirCamera{frames: frames, outDir: outDir, logger: logger}, nil
}

// Capture implements Camera.
func (c *DirCamera) Capture(ctx context.Context, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	src := c.frames[c.next%len(c.frames)]
	c.next++
	c.mu.Unlock()

	dst := framePath(c.outDir)
	var err error
	switch {
	case opts.Mirror:
		err = MirrorFile(src, dst)
	case isJPEGName(src):
		err = copyFile(src, dst)
	default:
		err = ConvertFile(src, dst)
	}
	if err != nil {
		return "", err
	}

	c.logger.Debug("frame captured", "source", src, "path", dst, "mirror", opts.Mirror)
	return dst, nil
}

// SnapshotCamera fetches a JPEG from an HTTP snapshot endpoint
// (e.g. a phone IP-camera app).
type SnapshotCamera struct {
	url        string
	outDir     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSnapshotCamera fetches frames from url and writes them to outDir.
func NewSnapshotCamera(url, outDir string, httpClient *http.Client, logger *slog.Logger) (*SnapshotCamera, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCamera{url: url, outDir: outDir, httpClient: httpClient, logger: logger}, nil
}

// Capture implements Camera.
func (c *SnapshotCamera) Capture(ctx context.Context, opts Options) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: snapshot returned %s", ErrNotReady, resp.Status)
	}

	raw := framePath(c.outDir)
	f, err := os.Create(raw)
	if err != nil {
		return "", fmt.Errorf("create frame: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: read snapshot: %v", ErrNotReady, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close frame: %w", err)
	}

	if !opts.Mirror {
		return raw, nil
	}
	mirrored := framePath(c.outDir)
	err = MirrorFile(raw, mirrored)
	_ = os.Remove(raw)
	if err != nil {
		return "", err
	}
	return mirrored, nil
}

func framePath(dir string) string {
	return filepath.Join(dir, uuid.NewString()+".jpg")
}

func isJPEGName(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy frame: %w", err)
	}
	return out.Close()
}
