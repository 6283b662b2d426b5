package steps

import (
	"fmt"
	"os"
	"time"

	"github.com/raphaelgruber/hairscan/internal/gate"
	"gopkg.in/yaml.v3"
)

// fileStep is the YAML form of a step override. Zero fields keep the
// built-in value.
type fileStep struct {
	Ordinal      int           `yaml:"ordinal"`
	Title        string        `yaml:"title"`
	Guidance     string        `yaml:"guidance"`
	Gate         string        `yaml:"gate"` // "manual-interval" or "orientation-triggered"
	Interval     time.Duration `yaml:"interval"`
	Cooldown     time.Duration `yaml:"cooldown"`
	Window       *gate.Window  `yaml:"window"`
	Path         string        `yaml:"path"`
	FrameField   string        `yaml:"frame_field"`
	OverlayField string        `yaml:"overlay_field"`
	VerdictField string        `yaml:"verdict_field"`
	Overlay      string        `yaml:"overlay"`
	Prompt       string        `yaml:"prompt"`
	Critical     *bool         `yaml:"critical"`
	Mirror       *bool         `yaml:"mirror"`
}

type stepsFile struct {
	Steps []fileStep `yaml:"steps"`
}

// Load returns the default catalogue with overrides from a YAML file applied.
// An empty path returns the defaults.
//
//	steps:
//	  - ordinal: 5
//	    gate: orientation-triggered
//	    cooldown: 1500ms
//	    window: {pitch_min: -8, pitch_max: 8, roll_min: -30, roll_max: 30}
func Load(path string) ([]Definition, error) {
	defs := Defaults()
	if path == "" {
		return defs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps file: %w", err)
	}
	return Parse(data)
}

// Parse applies YAML overrides to the default catalogue.
func Parse(data []byte) ([]Definition, error) {
	defs := Defaults()

	var f stepsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse steps file: %w", err)
	}

	for _, o := range f.Steps {
		if o.Ordinal < 1 || o.Ordinal > len(defs) {
			return nil, fmt.Errorf("steps file: ordinal %d out of range", o.Ordinal)
		}
		d := &defs[o.Ordinal-1]
		if err := apply(d, o); err != nil {
			return nil, err
		}
	}

	if err := Validate(defs); err != nil {
		return nil, fmt.Errorf("steps file: %w", err)
	}
	return defs, nil
}

func apply(d *Definition, o fileStep) error {
	if o.Title != "" {
		d.Title = o.Title
	}
	if o.Guidance != "" {
		d.Guidance = o.Guidance
	}

	switch GateKind(o.Gate) {
	case "":
		// keep the current strategy, adjust its timings
		switch g := d.Gate.(type) {
		case Manual:
			if o.Interval > 0 {
				g.Interval = o.Interval
			}
			d.Gate = g
		case Orientation:
			if o.Cooldown > 0 {
				g.Cooldown = o.Cooldown
			}
			if o.Window != nil {
				g.Window = *o.Window
			}
			d.Gate = g
		}
	case KindManual:
		d.Gate = Manual{Interval: o.Interval}
	case KindOrientation:
		g := Orientation{Cooldown: o.Cooldown}
		if prev, ok := d.Orientation(); ok {
			g.Window = prev.Window
		}
		if o.Window != nil {
			g.Window = *o.Window
		}
		if g.Window == (gate.Window{}) {
			return fmt.Errorf("steps file: step %d needs a window for %s", d.Ordinal, KindOrientation)
		}
		d.Gate = g
	default:
		return fmt.Errorf("steps file: step %d: unknown gate %q", d.Ordinal, o.Gate)
	}

	if o.Path != "" {
		d.Endpoint.Path = o.Path
	}
	if o.FrameField != "" {
		d.Endpoint.FrameField = o.FrameField
	}
	if o.OverlayField != "" {
		d.Endpoint.OverlayField = o.OverlayField
	}
	if o.VerdictField != "" {
		d.Endpoint.VerdictField = o.VerdictField
	}
	if o.Overlay != "" {
		d.Overlay = o.Overlay
	}
	if o.Prompt != "" {
		d.Prompt = o.Prompt
	}
	if o.Critical != nil {
		d.Critical = *o.Critical
	}
	if o.Mirror != nil {
		d.Mirror = *o.Mirror
	}
	return nil
}
