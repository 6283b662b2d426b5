package capture_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/hairscan/internal/capture"
	"github.com/raphaelgruber/hairscan/internal/gate"
	"github.com/raphaelgruber/hairscan/internal/metrics"
	"github.com/raphaelgruber/hairscan/internal/steps"
	"github.com/raphaelgruber/hairscan/internal/verify"
)

const (
	retryInterval  = 20 * time.Millisecond
	sampleInterval = 5 * time.Millisecond
	cooldown       = 20 * time.Millisecond
)

type rig struct {
	journal *journal
	camera  *fakeCamera
	ver     *fakeVerifier
	up      *fakeUploader
	rec     *fakeRecords
	sensor  *fakeSensor
	cues    *fakeCues
	events  *eventLog
	metrics *metrics.Collector
}

func newRig(t *testing.T, ver *fakeVerifier) *rig {
	t.Helper()
	j := &journal{}
	return &rig{
		journal: j,
		camera:  newFakeCamera(t),
		ver:     ver,
		up:      &fakeUploader{journal: j},
		rec:     &fakeRecords{journal: j},
		sensor:  &fakeSensor{},
		cues:    &fakeCues{journal: j},
		events:  &eventLog{},
		metrics: metrics.NewCollector(),
	}
}

func (r *rig) config(def steps.Definition) capture.Config {
	return capture.Config{
		Step:           def,
		OwnerID:        "u1",
		AnalysisID:     "a1",
		RetryInterval:  retryInterval,
		SampleInterval: sampleInterval,
		Cooldown:       cooldown,
	}
}

func (r *rig) deps() capture.Deps {
	return capture.Deps{
		Camera:   r.camera,
		Verifier: r.ver,
		Uploader: r.up,
		Records:  r.rec,
		Cues:     r.cues,
		Sensor:   r.sensor,
		Metrics:  r.metrics,
		Observer: r.events.observe,
	}
}

func (r *rig) session(t *testing.T, def steps.Definition, mutate ...func(*capture.Config)) *capture.Session {
	t.Helper()
	cfg := r.config(def)
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := capture.NewSession(cfg, r.deps())
	require.NoError(t, err)
	return s
}

func step(t *testing.T, ordinal int) steps.Definition {
	t.Helper()
	d, ok := steps.ByOrdinal(steps.Defaults(), ordinal)
	require.True(t, ok)
	return d
}

type runResult struct {
	ref string
	err error
}

func start(ctx context.Context, s *capture.Session) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		ref, err := s.Run(ctx)
		ch <- runResult{ref, err}
	}()
	return ch
}

func wait(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return runResult{}
	}
}

func TestManualStepAcceptedCommitsInOrder(t *testing.T) {
	r := newRig(t, accepting())
	s := r.session(t, step(t, 1))

	res := wait(t, start(context.Background(), s))

	require.NoError(t, res.err)
	assert.Equal(t, "https://cdn/u1/a1/step1.jpg", res.ref)
	assert.Equal(t, []string{
		"cue:success",
		"upload:image1.jpg",
		"complete:1:https://cdn/u1/a1/step1.jpg",
	}, r.journal.list())
	assert.Equal(t, int32(1), r.up.calls.Load())
	assert.Equal(t, int32(1), r.rec.calls.Load())
	assert.Equal(t, capture.Done, s.State())

	assert.Equal(t, []capture.State{
		capture.Idle, capture.Submitting, capture.Evaluating,
		capture.Accepted, capture.Committing, capture.Done,
	}, r.events.states())
	require.Len(t, r.events.kinds(capture.EventDone), 1)
	assert.Equal(t, res.ref, r.events.kinds(capture.EventDone)[0].Ref)
	assert.Equal(t, int64(1), r.metrics.Snapshot().Capture.Count)
}

func TestManualStepFirstAttemptWaitsOneInterval(t *testing.T) {
	r := newRig(t, accepting())
	s := r.session(t, step(t, 2), func(c *capture.Config) { c.RetryInterval = 60 * time.Millisecond })

	begin := time.Now()
	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)

	calls := r.ver.callTimes()
	require.Len(t, calls, 1)
	assert.GreaterOrEqual(t, calls[0].Sub(begin), 60*time.Millisecond)
}

func TestRejectedSchedulesOneRetryAndLeavesRecordUntouched(t *testing.T) {
	ver := &fakeVerifier{decide: func(n int) verify.Verdict {
		return verify.Verdict{Accepted: n == 3, Metrics: map[string]any{"difference": 30.0}}
	}}
	r := newRig(t, ver)
	s := r.session(t, step(t, 1))

	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)

	calls := ver.callTimes()
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), retryInterval, "retry %d came early", i)
	}

	// Only the accepted attempt reaches upload and the record.
	assert.Equal(t, int32(1), r.up.calls.Load())
	assert.Equal(t, int32(1), r.rec.calls.Load())

	attempts := r.events.kinds(capture.EventAttempt)
	require.Len(t, attempts, 3)
	assert.Equal(t, capture.VerdictRejected, attempts[0].Attempt.Verdict)
	assert.ErrorIs(t, attempts[0].Attempt.Err, capture.ErrVerificationRejected)
	assert.Equal(t, 30.0, attempts[0].Attempt.Metrics["difference"])
	assert.Equal(t, capture.VerdictAccepted, attempts[2].Attempt.Verdict)
}

func TestRejectedRetryIsNotDuplicated(t *testing.T) {
	r := newRig(t, rejecting())
	s := r.session(t, step(t, 1), func(c *capture.Config) { c.RetryInterval = 40 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := start(ctx, s)

	// Attempts at roughly 40, 80, 120 and 160ms.
	time.Sleep(180 * time.Millisecond)
	cancel()
	res := wait(t, done)
	assert.ErrorIs(t, res.err, context.Canceled)

	n := r.ver.count()
	assert.GreaterOrEqual(t, n, 2)
	assert.LessOrEqual(t, n, 4)
	assert.Zero(t, r.up.calls.Load())
	assert.Zero(t, r.rec.calls.Load())
}

func TestNetworkFailureIsARejection(t *testing.T) {
	ver := &fakeVerifier{decide: func(n int) verify.Verdict {
		if n == 1 {
			return verify.Verdict{Err: verify.ErrTransport}
		}
		return verify.Verdict{Accepted: true}
	}}
	r := newRig(t, ver)
	s := r.session(t, step(t, 3))

	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)

	attempts := r.events.kinds(capture.EventAttempt)
	require.Len(t, attempts, 2)
	assert.ErrorIs(t, attempts[0].Attempt.Err, verify.ErrTransport)
	assert.NotContains(t, r.journal.list(), "cue:failure", "transport failures retry silently")
}

func TestTransientCameraFailureRetries(t *testing.T) {
	r := newRig(t, accepting())
	r.camera.fail.Store(1)
	s := r.session(t, step(t, 4))

	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)

	assert.Equal(t, int32(2), r.camera.calls.Load())
	assert.Equal(t, 1, r.ver.count())
	attempts := r.events.kinds(capture.EventAttempt)
	require.Len(t, attempts, 2)
	assert.ErrorIs(t, attempts[0].Attempt.Err, capture.ErrTransientCapture)
	assert.Equal(t, int64(1), r.metrics.Snapshot().Capture.Failures)
}

func TestUploadFailureNeverWritesRecord(t *testing.T) {
	r := newRig(t, accepting())
	r.up.err = errors.New("503 from media host")
	s := r.session(t, step(t, 1), func(c *capture.Config) { c.MaxCommitFailures = 2 })

	res := wait(t, start(context.Background(), s))

	assert.ErrorIs(t, res.err, capture.ErrUpload)
	assert.Equal(t, int32(2), r.up.calls.Load())
	assert.Zero(t, r.rec.calls.Load())
	assert.Len(t, r.events.kinds(capture.EventCommitFailed), 2)
	assert.Equal(t, capture.Closed, s.State())
}

func TestCommitRetriesReuseAcceptedFrame(t *testing.T) {
	r := newRig(t, accepting())
	r.up.err = errors.New("503 from media host")
	s := r.session(t, step(t, 1))

	res := wait(t, start(context.Background(), s))
	assert.ErrorIs(t, res.err, capture.ErrUpload)

	// Three commits of the one accepted frame, never a new capture.
	assert.Equal(t, int32(3), r.up.calls.Load())
	assert.Equal(t, 1, r.ver.count())
	assert.Equal(t, int32(1), r.camera.calls.Load())
	assert.Equal(t, 1, s.Attempts())

	states := r.events.states()
	accepted := -1
	for i, st := range states {
		if st == capture.Accepted {
			accepted = i
			break
		}
	}
	require.GreaterOrEqual(t, accepted, 0)
	for _, st := range states[accepted+1:] {
		assert.Contains(t, []capture.State{capture.Committing, capture.Closed}, st)
	}
	assert.NotContains(t, r.journal.list(), "cue:failure")
}

func TestFatalVerifierCauseStopsSession(t *testing.T) {
	ver := &fakeVerifier{decide: func(int) verify.Verdict {
		return verify.Verdict{Err: fmt.Errorf("%w: 401 invalid token", verify.ErrFatal)}
	}}
	r := newRig(t, ver)
	s := r.session(t, step(t, 1))

	res := wait(t, start(context.Background(), s))

	assert.ErrorIs(t, res.err, capture.ErrVerifierUnavailable)
	assert.ErrorIs(t, res.err, verify.ErrFatal)
	assert.Equal(t, 1, ver.count())
	assert.Zero(t, r.up.calls.Load())
	assert.Equal(t, capture.Closed, s.State())
}

func TestIntroCueFailureStillOpensGate(t *testing.T) {
	r := newRig(t, accepting())
	r.cues.introErr = errors.New("audio device busy")
	r.sensor.set(level)
	s := r.session(t, step(t, 5))

	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)
	assert.Equal(t, 1, r.ver.count())
}

func TestPersistenceFailureRetriesThenCompletes(t *testing.T) {
	r := newRig(t, accepting())
	r.rec.failures.Store(1)
	s := r.session(t, step(t, 2))

	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)

	assert.Equal(t, "https://cdn/u1/a1/step2.jpg", res.ref)
	assert.Equal(t, int32(2), r.up.calls.Load())
	assert.Equal(t, int32(2), r.rec.calls.Load())
	assert.Equal(t, 1, r.ver.count(), "the accepted frame is committed again, not recaptured")

	failed := r.events.kinds(capture.EventCommitFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, capture.ErrPersistence)
	assert.ErrorIs(t, failed[0].Err, errWrite)
}

func TestCloseDuringSubmittingDiscardsLateVerdict(t *testing.T) {
	ver := accepting()
	ver.entered = make(chan int, 1)
	ver.release = make(chan struct{})
	r := newRig(t, ver)
	s := r.session(t, step(t, 1))

	done := start(context.Background(), s)
	select {
	case <-ver.entered:
	case <-time.After(time.Second):
		t.Fatal("no attempt started")
	}
	assert.Equal(t, capture.Submitting, s.State())

	s.Close()
	res := wait(t, done)
	assert.ErrorIs(t, res.err, capture.ErrClosed)

	// The verdict resolves after teardown.
	close(ver.release)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, r.up.calls.Load())
	assert.Zero(t, r.rec.calls.Load())
	assert.Equal(t, capture.Closed, s.State())
	assert.Empty(t, r.events.kinds(capture.EventAttempt))
}

func TestContextCancelStopsTimer(t *testing.T) {
	r := newRig(t, accepting())
	s := r.session(t, step(t, 1), func(c *capture.Config) { c.RetryInterval = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	done := start(ctx, s)
	cancel()

	res := wait(t, done)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.Zero(t, r.ver.count())
}

func TestCloseBeforeRun(t *testing.T) {
	r := newRig(t, accepting())
	s := r.session(t, step(t, 1))
	s.Close()
	s.Close()

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, capture.ErrClosed)

	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, capture.ErrAlreadyStarted)
}

func TestOrientationWaitsForIntroCue(t *testing.T) {
	r := newRig(t, accepting())
	r.cues.intro = make(chan struct{})
	r.sensor.set(level)
	s := r.session(t, step(t, 5))

	done := start(context.Background(), s)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, r.ver.count(), "gate must not fire before the intro cue finished")

	close(r.cues.intro)
	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "https://cdn/u1/a1/step5.jpg", res.ref)
	assert.Equal(t, 1, r.ver.count())
}

func TestOrientationFiresOnlyInRange(t *testing.T) {
	r := newRig(t, accepting())
	r.sensor.set(tilted)
	s := r.session(t, step(t, 5))

	done := start(context.Background(), s)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, r.ver.count())
	samples := r.events.kinds(capture.EventSample)
	require.NotEmpty(t, samples)
	assert.False(t, samples[0].InRange)
	assert.InDelta(t, 10, samples[0].Sample.Pitch, 0.5)

	r.sensor.set(level)
	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, 1, r.ver.count())
}

func TestOrientationAtMostOneInFlight(t *testing.T) {
	ver := rejecting()
	ver.delay = 25 * time.Millisecond
	r := newRig(t, ver)
	r.sensor.set(level)
	s := r.session(t, step(t, 5), func(c *capture.Config) { c.Cooldown = time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := start(ctx, s)

	require.Eventually(t, func() bool { return ver.count() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wait(t, done)

	assert.Equal(t, 1, ver.maxInFlight())
}

func TestOrientationCooldownAfterAttempt(t *testing.T) {
	ver := rejecting()
	r := newRig(t, ver)
	r.sensor.set(level)
	s := r.session(t, step(t, 5), func(c *capture.Config) { c.Cooldown = 60 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := start(ctx, s)

	require.Eventually(t, func() bool { return ver.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wait(t, done)

	calls := ver.callTimes()
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 60*time.Millisecond)
}

func TestAcceptedIsAbsorbing(t *testing.T) {
	r := newRig(t, accepting())
	r.up.delay = 50 * time.Millisecond
	r.sensor.set(level)
	s := r.session(t, step(t, 5), func(c *capture.Config) { c.Cooldown = time.Millisecond })

	res := wait(t, start(context.Background(), s))
	require.NoError(t, res.err)

	// Ticks kept arriving while the upload ran; none may start a capture.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, r.ver.count())
	assert.Equal(t, int32(1), r.camera.calls.Load())
	assert.Equal(t, int32(1), r.up.calls.Load())
	assert.Equal(t, 1, s.Attempts())
}

func TestOrientationIgnoresEmptyReadings(t *testing.T) {
	r := newRig(t, accepting())
	r.sensor.set(gate.Reading{})
	s := r.session(t, step(t, 5))

	done := start(context.Background(), s)
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, r.ver.count(), "a zero vector must not open the gate")
	assert.Empty(t, r.events.kinds(capture.EventSample))

	r.sensor.set(level)
	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, 1, r.ver.count())
}

func TestNewSessionValidation(t *testing.T) {
	r := newRig(t, accepting())

	_, err := capture.NewSession(r.config(step(t, 1)), capture.Deps{Camera: r.camera})
	assert.Error(t, err)

	cfg := r.config(step(t, 1))
	cfg.AnalysisID = ""
	_, err = capture.NewSession(cfg, r.deps())
	assert.Error(t, err)

	deps := r.deps()
	deps.Sensor = nil
	_, err = capture.NewSession(r.config(step(t, 5)), deps)
	assert.Error(t, err, "orientation steps need a sensor")

	_, err = capture.NewSession(r.config(step(t, 1)), deps)
	assert.NoError(t, err, "manual steps do not")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "submitting", capture.Submitting.String())
	assert.Equal(t, "unknown", capture.State(99).String())
	assert.True(t, capture.Done.Terminal())
	assert.False(t, capture.Rejected.Terminal())
}
