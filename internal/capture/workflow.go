package capture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/hairscan/internal/cue"
	"github.com/raphaelgruber/hairscan/internal/models"
	"github.com/raphaelgruber/hairscan/internal/steps"
)

// Workflow runs the steps of one analysis strictly in order.
type Workflow struct {
	steps []steps.Definition
	base  Config
	deps  Deps

	// OnStep is called before a step's session starts.
	OnStep func(def steps.Definition, s *Session)
	// OnAdvance is the advance signal, called after a step is Done.
	OnAdvance func(def steps.Definition, ref string)
}

// NewWorkflow creates a workflow. base supplies the timings and overlay
// directory; its Step, OwnerID and AnalysisID are set per step from the record.
func NewWorkflow(defs []steps.Definition, base Config, deps Deps) (*Workflow, error) {
	if err := steps.Validate(defs); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Workflow{steps: defs, base: base, deps: deps}, nil
}

// Run drives every pending step of record, skipping steps that already hold
// an asset reference. record is updated in memory as steps complete.
func (w *Workflow) Run(ctx context.Context, record *models.Analysis) error {
	analysisID := record.IDString()
	if analysisID == "" {
		return fmt.Errorf("analysis record has no id")
	}

	for _, def := range w.steps {
		if record.StepDone(def.Ordinal) {
			w.deps.Logger.Info("skipping completed step", "step", def.Ordinal, "analysis_id", analysisID)
			continue
		}

		cfg := w.base
		cfg.Step = def
		cfg.OwnerID = record.UID
		cfg.AnalysisID = analysisID

		sess, err := NewSession(cfg, w.deps)
		if err != nil {
			return fmt.Errorf("%s: %w", def, err)
		}
		if sp, ok := w.deps.Cues.(cue.Speaker); ok {
			sp.Say(cue.Intro, def.Guidance)
		}
		if w.OnStep != nil {
			w.OnStep(def, sess)
		}

		ref, err := sess.Run(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", def, err)
		}

		if err := record.SetStep(def.Ordinal, ref); err != nil {
			return err
		}
		record.Status = models.StatusCaptured
		if w.OnAdvance != nil {
			w.OnAdvance(def, ref)
		}
	}
	return nil
}
