package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/raphaelgruber/hairscan/internal/camera"
	"github.com/raphaelgruber/hairscan/internal/capture"
	"github.com/raphaelgruber/hairscan/internal/config"
	"github.com/raphaelgruber/hairscan/internal/cue"
	"github.com/raphaelgruber/hairscan/internal/llm"
	"github.com/raphaelgruber/hairscan/internal/metrics"
	"github.com/raphaelgruber/hairscan/internal/models"
	"github.com/raphaelgruber/hairscan/internal/sensor"
	"github.com/raphaelgruber/hairscan/internal/service"
	"github.com/raphaelgruber/hairscan/internal/steps"
	"github.com/raphaelgruber/hairscan/internal/upload"
	"github.com/raphaelgruber/hairscan/internal/verify"
	"github.com/spf13/cobra"
)

var (
	captureResume     bool
	captureAnalysisID string
	captureFrames     string
	captureCameraURL  string
	captureNoTUI      bool
	captureSensorAddr string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run the guided five-step capture",
	Long: `Run the guided five-step capture for a new or unfinished analysis.

Frames come from a directory (--frames, replayed in name order) or from a
camera snapshot URL (--camera-url). Orientation for the donor step is read
from the phone over a WebSocket served at --sensor-addr.

Examples:
  hairscan capture --frames ./frames
  hairscan capture --camera-url http://phone.local:8080/shot.jpg
  hairscan capture --resume --camera-url http://phone.local:8080/shot.jpg
  hairscan capture --analysis 0199a3c4-... --frames ./frames --no-tui`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().BoolVarP(&captureResume, "resume", "r", false, "continue the newest unfinished analysis")
	captureCmd.Flags().StringVarP(&captureAnalysisID, "analysis", "a", "", "continue a specific analysis")
	captureCmd.Flags().StringVar(&captureFrames, "frames", "", "directory of frames to replay as the camera")
	captureCmd.Flags().StringVar(&captureCameraURL, "camera-url", "", "camera snapshot URL returning a JPEG")
	captureCmd.Flags().BoolVar(&captureNoTUI, "no-tui", false, "print plain progress lines instead of the interactive view")
	captureCmd.Flags().StringVar(&captureSensorAddr, "sensor-addr", "", "listen address for the orientation feed (default from HAIRSCAN_SENSOR_ADDR)")
	captureCmd.MarkFlagsMutuallyExclusive("frames", "camera-url")
	captureCmd.MarkFlagsMutuallyExclusive("resume", "analysis")
}

func runCapture(cmd *cobra.Command, args []string) error {
	id, err := currentUser()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	defs, err := loadSteps()
	if err != nil {
		return err
	}

	record, err := openRecord(ctx, id.UserID)
	if err != nil {
		return err
	}

	frameDir, err := os.MkdirTemp("", "hairscan-frames-")
	if err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	defer os.RemoveAll(frameDir)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	cam, err := newCamera(frameDir, httpClient)
	if err != nil {
		return err
	}

	verifier, err := newVerifier(ctx, cfg, defs, httpClient, collector)
	if err != nil {
		return err
	}

	uploader := upload.NewClient(cfg.UploadURL, cfg.UploadPreset,
		upload.WithHTTPClient(httpClient),
		upload.WithLogger(logger),
		upload.WithMetrics(collector),
	)

	hub := sensor.NewHub(logger)
	addr := cfg.SensorAddr
	if captureSensorAddr != "" {
		addr = captureSensorAddr
	}
	go func() {
		if err := sensor.Serve(ctx, addr, hub); err != nil {
			logger.Warn("sensor server stopped", "error", err)
		}
	}()

	base := capture.Config{
		OverlayDir:     cfg.OverlayDir,
		RetryInterval:  cfg.RetryInterval,
		SampleInterval: cfg.SampleInterval,
		Cooldown:       cfg.Cooldown,
	}

	build := func(h uiHooks) (*capture.Workflow, error) {
		return capture.NewWorkflow(defs, base, capture.Deps{
			Camera:   cam,
			Verifier: verifier,
			Uploader: uploader,
			Records:  analyses,
			Cues:     cue.NewTerminalPlayer(h.CueOut, nil, logger),
			Sensor:   hub,
			Metrics:  collector,
			Logger:   logger,
			Observer: h.Observer,
		})
	}

	analysisID := record.IDString()
	logger.Info("capture started", "analysis_id", analysisID, "next_step", record.NextPendingStep())

	if captureNoTUI {
		var wf *capture.Workflow
		if wf, err = build(uiHooks{Observer: printEvent, CueOut: os.Stdout}); err == nil {
			wf.OnStep = func(def steps.Definition, s *capture.Session) {
				fmt.Printf("\nStep %d/%d: %s\n", def.Ordinal, models.StepCount, def.Title)
			}
			wf.OnAdvance = func(def steps.Definition, ref string) {
				fmt.Printf("Step %d saved: %s\n", def.Ordinal, ref)
			}
			err = wf.Run(ctx, record)
		}
	} else {
		err = RunCaptureProgress(ctx, defs, record, hub, build)
	}

	if verbose {
		printMetrics(collector.Snapshot())
	}
	if errors.Is(err, context.Canceled) {
		fmt.Printf("Capture stopped. Use 'hairscan capture --resume' to continue.\n")
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture %s: %w", analysisID, err)
	}
	if record.Complete() {
		fmt.Printf("Analysis %s captured. Use 'hairscan show %s' to review it.\n", analysisID, analysisID)
	}
	return nil
}

// openRecord returns the record to capture into: an explicit one, the newest
// unfinished one, or a fresh one.
func openRecord(ctx context.Context, userID string) (*models.Analysis, error) {
	switch {
	case captureAnalysisID != "":
		a, err := analyses.Get(ctx, captureAnalysisID)
		if err != nil {
			return nil, err
		}
		if a.Complete() {
			return nil, fmt.Errorf("analysis %s is already complete", captureAnalysisID)
		}
		return a, nil

	case captureResume:
		a, err := analyses.Resume(ctx)
		if errors.Is(err, service.ErrNotFound) {
			return nil, fmt.Errorf("nothing to resume: %w", err)
		}
		return a, err
	}

	recordID, err := analyses.CreateSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return analyses.Get(ctx, recordID)
}

func newCamera(frameDir string, httpClient *http.Client) (camera.Camera, error) {
	switch {
	case captureFrames != "":
		c, err := camera.NewDirCamera(captureFrames, frameDir, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case captureCameraURL != "":
		c, err := camera.NewSnapshotCamera(captureCameraURL, frameDir, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, errors.New("no camera: pass --frames or --camera-url")
}

// newVerifier returns the HTTP analysis client, with prompt steps routed to
// the vision model when the vision verifier is configured.
func newVerifier(ctx context.Context, cfg config.Config, defs []steps.Definition, httpClient *http.Client, m *metrics.Collector) (verify.Verifier, error) {
	remote := verify.NewClient(cfg.AIBaseURL,
		verify.WithHTTPClient(httpClient),
		verify.WithLogger(logger),
		verify.WithMetrics(m),
	)
	if cfg.Verifier != config.VerifierVision {
		return remote, nil
	}

	model, err := llm.NewModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init vision model: %w", err)
	}
	vision := llm.NewVisionVerifier(model, cfg.VisionModel,
		llm.WithLogger(logger),
		llm.WithMetrics(m),
	)

	router := &verify.Router{Default: remote, ByStep: map[int]verify.Verifier{}}
	for _, def := range defs {
		if def.Prompt != "" {
			router.ByStep[def.Ordinal] = vision
		}
	}
	return router, nil
}

// printEvent prints one line per notable session event.
func printEvent(e capture.Event) {
	switch e.Kind {
	case capture.EventAttempt:
		a := e.Attempt
		switch {
		case a.Verdict == capture.VerdictAccepted:
			fmt.Printf("  attempt %d accepted (%dms)\n", a.Seq, a.Duration.Milliseconds())
		case errors.Is(a.Err, capture.ErrVerificationRejected):
			fmt.Printf("  attempt %d rejected\n", a.Seq)
		default:
			fmt.Printf("  attempt %d failed: %v\n", a.Seq, a.Err)
		}
	case capture.EventCommitFailed:
		fmt.Printf("  could not save the photo: %v\n", e.Err)
	case capture.EventState:
		if verbose {
			fmt.Printf("  [%s]\n", e.State)
		}
	}
}

func printMetrics(s metrics.Snapshot) {
	fmt.Printf("\nTimings (%.0fs):\n", s.UptimeSeconds)
	for _, op := range []struct {
		name string
		snap *metrics.OperationSnapshot
	}{
		{metrics.OpCapture, s.Capture},
		{metrics.OpVerify, s.Verify},
		{metrics.OpUpload, s.Upload},
		{metrics.OpRecordWrite, s.RecordWrite},
	} {
		if op.snap == nil {
			continue
		}
		fmt.Printf("  %-12s %3d calls  %3d failed  avg %6.0fms  max %5dms\n",
			op.name, op.snap.Count, op.snap.Failures, op.snap.AvgTimeMs, op.snap.MaxTimeMs)
	}
}
