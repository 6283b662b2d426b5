package capture_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/hairscan/internal/camera"
	"github.com/raphaelgruber/hairscan/internal/capture"
	"github.com/raphaelgruber/hairscan/internal/cue"
	"github.com/raphaelgruber/hairscan/internal/gate"
	"github.com/raphaelgruber/hairscan/internal/upload"
	"github.com/raphaelgruber/hairscan/internal/verify"
)

// journal records side effects in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeCamera struct {
	path  string
	calls atomic.Int32
	fail  atomic.Int32 // number of leading calls that fail
}

func newFakeCamera(t *testing.T) *fakeCamera {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
	return &fakeCamera{path: path}
}

func (c *fakeCamera) Capture(ctx context.Context, opts camera.Options) (string, error) {
	n := c.calls.Add(1)
	if n <= c.fail.Load() {
		return "", camera.ErrNotReady
	}
	return c.path, nil
}

// fakeVerifier answers from decide and tracks call times and concurrency.
type fakeVerifier struct {
	decide  func(n int) verify.Verdict
	delay   time.Duration
	entered chan int      // optional, receives the call number on entry
	release chan struct{} // optional, blocks each call until closed/sent

	mu        sync.Mutex
	calls     []time.Time
	inFlight  int
	maxFlight int
}

func accepting() *fakeVerifier {
	return &fakeVerifier{decide: func(int) verify.Verdict { return verify.Verdict{Accepted: true} }}
}

func rejecting() *fakeVerifier {
	return &fakeVerifier{decide: func(int) verify.Verdict { return verify.Verdict{} }}
}

func (v *fakeVerifier) Verify(ctx context.Context, req verify.Request) verify.Verdict {
	v.mu.Lock()
	v.calls = append(v.calls, time.Now())
	n := len(v.calls)
	v.inFlight++
	if v.inFlight > v.maxFlight {
		v.maxFlight = v.inFlight
	}
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.inFlight--
		v.mu.Unlock()
	}()

	if v.entered != nil {
		v.entered <- n
	}
	if v.release != nil {
		<-v.release
	}
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	return v.decide(n)
}

func (v *fakeVerifier) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

func (v *fakeVerifier) callTimes() []time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]time.Time(nil), v.calls...)
}

func (v *fakeVerifier) maxInFlight() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.maxFlight
}

type fakeUploader struct {
	journal *journal
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (u *fakeUploader) Upload(ctx context.Context, a upload.Asset) (string, error) {
	u.calls.Add(1)
	u.journal.add("upload:" + a.Name)
	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	if u.err != nil {
		return "", u.err
	}
	var n int
	_, _ = fmt.Sscanf(a.Name, "image%d.jpg", &n)
	return fmt.Sprintf("https://cdn/%s/step%d.jpg", a.Folder(), n), nil
}

type fakeRecords struct {
	journal  *journal
	failures atomic.Int32 // number of leading calls that fail
	calls    atomic.Int32
}

var errWrite = errors.New("write refused")

func (r *fakeRecords) CompleteStep(ctx context.Context, recordID string, stepIndex int, assetRef string) error {
	n := r.calls.Add(1)
	r.journal.add(fmt.Sprintf("complete:%d:%s", stepIndex, assetRef))
	if n <= r.failures.Load() {
		return errWrite
	}
	return nil
}

type fakeSensor struct {
	mu      sync.Mutex
	reading gate.Reading
	has     bool
}

func (s *fakeSensor) set(r gate.Reading) {
	s.mu.Lock()
	s.reading = r
	s.has = true
	s.mu.Unlock()
}

func (s *fakeSensor) Latest() (gate.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading, s.has
}

// level is a reading with pitch 0 and roll 0.
var level = gate.Reading{X: 0, Y: 0, Z: 1}

// tilted is a reading with pitch of about 10 degrees.
var tilted = gate.Reading{X: -0.17, Y: 0, Z: 0.98}

type fakeCues struct {
	journal  *journal
	intro    chan struct{} // optional, Intro blocks until closed
	introErr error
}

func (c *fakeCues) Play(ctx context.Context, k cue.Cue) error {
	if k == cue.Intro && c.intro != nil {
		select {
		case <-c.intro:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if k == cue.Intro && c.introErr != nil {
		return c.introErr
	}
	if c.journal != nil && k != cue.Intro && k != cue.Analyzing {
		c.journal.add("cue:" + string(k))
	}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []capture.Event
}

func (l *eventLog) observe(e capture.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) kinds(k capture.EventKind) []capture.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []capture.Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) states() []capture.State {
	var out []capture.State
	for _, e := range l.kinds(capture.EventState) {
		out = append(out, e.State)
	}
	return out
}
