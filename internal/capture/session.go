// Package capture drives the guided capture steps: one Session per step,
// run sequentially by a Workflow.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/raphaelgruber/hairscan/internal/camera"
	"github.com/raphaelgruber/hairscan/internal/cue"
	"github.com/raphaelgruber/hairscan/internal/gate"
	"github.com/raphaelgruber/hairscan/internal/metrics"
	"github.com/raphaelgruber/hairscan/internal/steps"
	"github.com/raphaelgruber/hairscan/internal/upload"
	"github.com/raphaelgruber/hairscan/internal/verify"
)

// Session timing defaults.
const (
	DefaultRetryInterval     = 3 * time.Second
	DefaultSampleInterval    = 150 * time.Millisecond
	DefaultCooldown          = 2 * time.Second
	DefaultMaxCommitFailures = 3
)

// RecordWriter stores an accepted asset reference in the analysis record.
// *service.AnalysisService implements it.
type RecordWriter interface {
	CompleteStep(ctx context.Context, recordID string, stepIndex int, assetRef string) error
}

// SampleSource yields the most recent accelerometer reading.
// *sensor.Hub implements it.
type SampleSource interface {
	Latest() (gate.Reading, bool)
}

// Config identifies the step and record a session works on, plus timings.
// Zero timings fall back to the step's own values, then to the defaults.
type Config struct {
	Step       steps.Definition
	OwnerID    string
	AnalysisID string
	OverlayDir string

	RetryInterval     time.Duration
	SampleInterval    time.Duration
	Cooldown          time.Duration
	MaxCommitFailures int
}

// Deps are the session's collaborators.
type Deps struct {
	Camera   camera.Camera
	Verifier verify.Verifier
	Uploader upload.Uploader
	Records  RecordWriter
	Cues     cue.Player   // nil plays nothing
	Sensor   SampleSource // required for orientation steps
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Observer Observer
}

type attemptResult struct {
	attempt Attempt
	verdict verify.Verdict
}

// Session drives one step to Done. All state transitions happen on the
// goroutine running Run; attempts run on their own goroutine, one at a time,
// and report back over a channel.
type Session struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	gate   *gate.Gate // nil for manual steps

	mu        sync.Mutex
	state     State
	started   bool
	active    bool
	accepted  bool // one-shot latch, never cleared
	inFlight  bool
	attempts  int
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once

	// run loop only
	cooldownUntil  time.Time
	commitFailures int
	acceptedFrame  string
}

// NewSession validates the collaborators and fills in timing defaults.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if cfg.Step.Gate == nil {
		return nil, fmt.Errorf("%s: missing gate strategy", cfg.Step)
	}
	if deps.Camera == nil || deps.Verifier == nil || deps.Uploader == nil || deps.Records == nil {
		return nil, errors.New("camera, verifier, uploader and record writer are required")
	}
	if cfg.OwnerID == "" || cfg.AnalysisID == "" {
		return nil, errors.New("owner and analysis id are required")
	}
	if deps.Cues == nil {
		deps.Cues = cue.Silent{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	switch g := cfg.Step.Gate.(type) {
	case steps.Manual:
		if g.Interval > 0 {
			cfg.RetryInterval = g.Interval
		}
	case steps.Orientation:
		if g.Cooldown > 0 {
			cfg.Cooldown = g.Cooldown
		}
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxCommitFailures <= 0 {
		cfg.MaxCommitFailures = DefaultMaxCommitFailures
	}

	s := &Session{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("step", cfg.Step.Ordinal, "analysis_id", cfg.AnalysisID),
		closed: make(chan struct{}),
	}
	if o, ok := cfg.Step.Orientation(); ok {
		if deps.Sensor == nil {
			return nil, fmt.Errorf("%s: orientation step needs a sensor", cfg.Step)
		}
		s.gate = gate.New(o.Window)
	}
	return s, nil
}

// Step returns the session's step definition.
func (s *Session) Step() steps.Definition {
	return s.cfg.Step
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many attempts have been started.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Close tears the session down: pending timers stop and any in-flight
// verdict is discarded. Safe to call more than once and before Run.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		cancel := s.cancel
		s.mu.Unlock()

		close(s.closed)
		if cancel != nil {
			cancel()
		}
	})
}

func (s *Session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// setState moves to st. Terminal states are never left.
func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("state", "state", st.String())
	s.emit(Event{Kind: EventState, State: st})
}

func (s *Session) emit(e Event) {
	if s.deps.Observer == nil {
		return
	}
	e.Step = s.cfg.Step.Ordinal
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.deps.Observer(e)
}

func (s *Session) play(ctx context.Context, c cue.Cue) {
	if err := s.deps.Cues.Play(ctx, c); err != nil && ctx.Err() == nil {
		s.logger.Warn("cue failed", "cue", string(c), "error", err)
	}
}

// Run drives the step until its asset is uploaded and recorded, and returns
// the asset reference. It returns ErrClosed after Close, ctx.Err() after
// cancellation, ErrVerifierUnavailable when the verifier reports a fatal
// cause, and the commit error after MaxCommitFailures consecutive upload or
// record-write failures.
func (s *Session) Run(ctx context.Context) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	s.started = true
	select {
	case <-s.closed:
		s.state = Closed
		s.mu.Unlock()
		return "", ErrClosed
	default:
	}
	s.active = true
	s.cancel = cancel
	s.mu.Unlock()

	var (
		ref string
		err error
	)
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		if err != nil {
			s.setState(Closed)
		}
	}()

	s.logger.Info("step started", "title", s.cfg.Step.Title, "gate", string(s.cfg.Step.Gate.Kind()))
	s.setState(Idle)
	ref, err = s.loop(ctx)
	return ref, err
}

func (s *Session) loop(ctx context.Context) (string, error) {
	results := make(chan attemptResult, 1)

	// Manual steps: one timer, re-armed on every Idle entry.
	var (
		retry  *time.Timer
		retryC <-chan time.Time
	)
	arm := func() {
		if retry != nil {
			retry.Stop()
		}
		retry = time.NewTimer(s.cfg.RetryInterval)
		retryC = retry.C
	}
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()

	// Accepted steps: the accepted frame's commit is retried after the cool-down.
	var (
		commitRetry *time.Timer
		commitC     <-chan time.Time
	)
	armCommit := func() {
		commitRetry = time.NewTimer(s.cfg.Cooldown)
		commitC = commitRetry.C
	}
	defer func() {
		if commitRetry != nil {
			commitRetry.Stop()
		}
	}()

	// Orientation steps: sample on a ticker once the intro cue finished.
	var (
		tickC  <-chan time.Time
		readyC chan struct{}
	)
	introDone := make(chan struct{})
	go func() {
		err := s.deps.Cues.Play(ctx, cue.Intro)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("intro cue failed", "error", err)
		}
		close(introDone)
	}()

	if s.gate != nil {
		ticker := time.NewTicker(s.cfg.SampleInterval)
		defer ticker.Stop()
		tickC = ticker.C
		readyC = introDone
	} else {
		arm()
	}

	for {
		select {
		case <-s.closed:
			return "", ErrClosed

		case <-ctx.Done():
			if !s.isActive() {
				return "", ErrClosed
			}
			return "", ctx.Err()

		case <-readyC:
			readyC = nil
			s.gate.MarkReady()
			s.logger.Debug("orientation gate ready")

		case <-retryC:
			retryC = nil
			s.trigger(ctx, results)

		case <-tickC:
			if s.sample() {
				s.trigger(ctx, results)
			}

		case res := <-results:
			if !s.isActive() {
				return "", ErrClosed
			}
			ref, done, err := s.evaluate(ctx, res)
			if err != nil {
				return "", err
			}
			if done {
				return ref, nil
			}
			switch {
			case s.acceptedFrame != "":
				armCommit()
			case s.gate == nil:
				arm()
			}

		case <-commitC:
			commitC = nil
			ref, done, err := s.commitAccepted(ctx)
			if err != nil {
				return "", err
			}
			if done {
				return ref, nil
			}
			armCommit()
		}
	}
}

// sample feeds the latest reading to the gate and reports whether it fires.
func (s *Session) sample() bool {
	r, ok := s.deps.Sensor.Latest()
	if !ok {
		return false
	}
	sample, ok := s.gate.Observe(r)
	if !ok {
		return false
	}

	s.mu.Lock()
	e := gate.Eligibility{
		InFlight:    s.inFlight,
		Accepted:    s.accepted,
		CoolingDown: time.Now().Before(s.cooldownUntil),
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventSample, Sample: &sample, InRange: s.gate.Window().Contains(sample)})
	return s.gate.ShouldFire(e)
}

// trigger starts an attempt unless one is in flight or the step is accepted.
func (s *Session) trigger(ctx context.Context, results chan<- attemptResult) {
	s.mu.Lock()
	if !s.active || s.accepted || s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.attempts++
	seq := s.attempts
	s.mu.Unlock()

	s.setState(Submitting)
	go func() {
		res := s.attempt(ctx, seq)
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()
}

func (s *Session) overlayPath() string {
	if s.cfg.Step.Overlay == "" || s.cfg.Step.Endpoint.OverlayField == "" {
		return ""
	}
	return filepath.Join(s.cfg.OverlayDir, s.cfg.Step.Overlay)
}

// attempt captures and verifies one frame. It runs off the loop goroutine and
// touches no session state.
func (s *Session) attempt(ctx context.Context, seq int) attemptResult {
	a := Attempt{Seq: seq, Verdict: VerdictPending, At: time.Now()}

	start := time.Now()
	frame, err := s.deps.Camera.Capture(ctx, camera.Options{Mirror: s.cfg.Step.Mirror})
	if s.deps.Metrics != nil {
		if err != nil {
			s.deps.Metrics.RecordFailure(metrics.OpCapture, time.Since(start))
		} else {
			s.deps.Metrics.RecordTiming(metrics.OpCapture, time.Since(start))
		}
	}
	if err != nil {
		v := verify.Verdict{Err: fmt.Errorf("%w: %w", ErrTransientCapture, err)}
		a.Duration = time.Since(a.At)
		return attemptResult{attempt: a, verdict: v}
	}
	a.Frame = frame

	if s.gate != nil {
		go s.play(ctx, cue.Analyzing)
	}

	v := s.deps.Verifier.Verify(ctx, verify.Request{
		Step:    s.cfg.Step,
		Frame:   frame,
		Overlay: s.overlayPath(),
	})
	a.Duration = time.Since(a.At)
	return attemptResult{attempt: a, verdict: v}
}

// evaluate handles one attempt result on the loop goroutine. It returns the
// asset reference and true once the step is done.
func (s *Session) evaluate(ctx context.Context, res attemptResult) (string, bool, error) {
	s.setState(Evaluating)
	a := res.attempt
	a.Metrics = res.verdict.Metrics

	if !res.verdict.Accepted {
		s.reject(ctx, a, res.verdict.Err)
		if errors.Is(res.verdict.Err, verify.ErrFatal) {
			s.logger.Error("verifier unavailable", "error", res.verdict.Err)
			return "", false, fmt.Errorf("%w: %w", ErrVerifierUnavailable, res.verdict.Err)
		}
		return "", false, nil
	}

	a.Verdict = VerdictAccepted
	s.mu.Lock()
	s.accepted = true
	s.inFlight = false
	s.mu.Unlock()
	s.acceptedFrame = a.Frame
	s.setState(Accepted)
	s.emit(Event{Kind: EventAttempt, Attempt: &a})
	s.logger.Info("frame accepted", "attempt", a.Seq, "duration_ms", a.Duration.Milliseconds(), "critical", s.cfg.Step.Critical)

	s.play(ctx, cue.Success)
	return s.commitAccepted(ctx)
}

// commitAccepted commits the accepted frame. A failed commit leaves the
// session in Committing; the caller retries after the cool-down.
func (s *Session) commitAccepted(ctx context.Context) (string, bool, error) {
	ref, err := s.commit(ctx, s.acceptedFrame)
	if err == nil {
		s.setState(Done)
		s.emit(Event{Kind: EventDone, Ref: ref})
		s.logger.Info("step done", "ref", ref)
		return ref, true, nil
	}
	if !s.isActive() {
		return "", false, ErrClosed
	}

	s.commitFailures++
	s.logger.Error("commit failed", "failures", s.commitFailures, "error", err)
	s.emit(Event{Kind: EventCommitFailed, Err: err})
	if s.commitFailures >= s.cfg.MaxCommitFailures {
		return "", false, err
	}
	return "", false, nil
}

// reject returns the session to Idle after a negative or failed verdict.
func (s *Session) reject(ctx context.Context, a Attempt, cause error) {
	a.Verdict = VerdictRejected
	if cause == nil {
		a.Err = ErrVerificationRejected
	} else {
		a.Err = cause
	}

	s.mu.Lock()
	s.inFlight = false
	s.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
	s.mu.Unlock()

	s.setState(Rejected)
	s.emit(Event{Kind: EventAttempt, Attempt: &a})

	if cause == nil {
		s.logger.Info("frame rejected", "attempt", a.Seq, "metrics", a.Metrics)
		go s.play(ctx, cue.Failure)
	} else {
		s.logger.Warn("attempt failed", "attempt", a.Seq, "error", cause)
	}

	s.setState(Idle)
}

// commit uploads the frame, then writes the record. Each step checks the
// session is still active first.
func (s *Session) commit(ctx context.Context, frame string) (string, error) {
	if !s.isActive() {
		return "", ErrClosed
	}

	s.setState(Committing)
	ref, err := s.deps.Uploader.Upload(ctx, upload.Asset{
		OwnerID:    s.cfg.OwnerID,
		AnalysisID: s.cfg.AnalysisID,
		Name:       s.cfg.Step.AssetName(),
		Path:       frame,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if !s.isActive() {
		return "", ErrClosed
	}

	if err := s.deps.Records.CompleteStep(ctx, s.cfg.AnalysisID, s.cfg.Step.Ordinal, ref); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return ref, nil
}
