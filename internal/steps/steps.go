// Package steps defines the five guided capture steps and how each one is
// triggered, verified and named.
package steps

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/hairscan/internal/gate"
	"github.com/raphaelgruber/hairscan/internal/models"
)

// GateKind names a gate strategy.
type GateKind string

const (
	KindManual      GateKind = "manual-interval"
	KindOrientation GateKind = "orientation-triggered"
)

// GateStrategy decides what arms a capture attempt: a timer or the orientation gate.
// The concrete types are Manual and Orientation.
type GateStrategy interface {
	Kind() GateKind
	isGateStrategy()
}

// Manual re-arms a capture on a fixed interval. A zero Interval uses the
// session default.
type Manual struct {
	Interval time.Duration
}

func (Manual) Kind() GateKind { return KindManual }
func (Manual) isGateStrategy() {}

// Orientation fires a capture when the device orientation enters Window.
// A zero Cooldown uses the session default.
type Orientation struct {
	Window   gate.Window
	Cooldown time.Duration
}

func (Orientation) Kind() GateKind { return KindOrientation }
func (Orientation) isGateStrategy() {}

// Endpoint describes how a step's frame is verified remotely.
type Endpoint struct {
	Path         string // e.g. "/compare"
	FrameField   string // multipart field carrying the captured frame
	OverlayField string // multipart field carrying the reference overlay, if any
	VerdictField string // boolean response field holding the verdict
}

// Definition is the static configuration of one step.
type Definition struct {
	Ordinal  int
	Title    string
	Guidance string
	Gate     GateStrategy
	Endpoint Endpoint
	Overlay  string // overlay file name, resolved against the overlay directory
	Prompt   string // vision prompt, used when the step is routed to an LLM verifier
	Critical bool
	Mirror   bool
}

// Orientation returns the orientation strategy if the step uses one.
func (d Definition) Orientation() (Orientation, bool) {
	o, ok := d.Gate.(Orientation)
	return o, ok
}

// AssetName is the file name used when uploading the step's accepted frame.
func (d Definition) AssetName() string {
	return fmt.Sprintf("image%d.jpg", d.Ordinal)
}

func (d Definition) String() string {
	return fmt.Sprintf("step %d (%s)", d.Ordinal, d.Title)
}

var compare = Endpoint{
	Path:         "/compare",
	FrameField:   "user",
	OverlayField: "model",
	VerdictField: "match",
}

var checkNeck = Endpoint{
	Path:         "/check-neck",
	FrameField:   "image",
	VerdictField: "is_neck_visible",
}

// DonorPrompt asks a vision model whether the back of the head is visible.
const DonorPrompt = `Does this image show the back of a person's head (the nape and the donor area above the neck)?
If any part of the face is visible, answer "No".
Only answer "Yes" when the person is turned away and the back of the head is clearly visible; shoulders or the upper back alone are not enough.
Answer with exactly one word: "Yes" or "No".`

// Defaults returns the built-in five-step catalogue.
func Defaults() []Definition {
	return []Definition{
		{
			Ordinal:  1,
			Title:    "Full face, frontal",
			Guidance: "Hold the phone at eye level and look straight into the lens. Keep your face in the middle of the frame.",
			Gate:     Manual{},
			Endpoint: compare,
			Overlay:  "front.png",
			Mirror:   true,
		},
		{
			Ordinal:  2,
			Title:    "45 degrees right",
			Guidance: "Turn your head 45 degrees to the right and keep the phone at eye level.",
			Gate:     Manual{},
			Endpoint: compare,
			Overlay:  "right45.png",
			Mirror:   true,
		},
		{
			Ordinal:  3,
			Title:    "45 degrees left",
			Guidance: "Turn your head 45 degrees to the left and keep the phone at eye level.",
			Gate:     Manual{},
			Endpoint: compare,
			Overlay:  "left45.png",
			Mirror:   true,
		},
		{
			Ordinal:  4,
			Title:    "Vertex",
			Guidance: "Tilt your head forward and hold the phone above the crown so the top of the head fills the frame.",
			Gate:     Manual{},
			Endpoint: compare,
			Overlay:  "vertex.png",
			Critical: true,
		},
		{
			Ordinal:  5,
			Title:    "Rear donor area",
			Guidance: "Hold the phone upright behind your head. The picture is taken automatically when the phone is level.",
			Gate: Orientation{
				Window: gate.Window{PitchMin: -5, PitchMax: 5, RollMin: -25, RollMax: 25},
			},
			Endpoint: checkNeck,
			Prompt:   DonorPrompt,
			Critical: true,
		},
	}
}

// Validate checks a catalogue: ordinals 1..5 exactly once, in order, with a
// usable gate and endpoint each.
func Validate(defs []Definition) error {
	if len(defs) != models.StepCount {
		return fmt.Errorf("expected %d steps, got %d", models.StepCount, len(defs))
	}
	for i, d := range defs {
		if d.Ordinal != i+1 {
			return fmt.Errorf("step at position %d has ordinal %d", i+1, d.Ordinal)
		}
		if d.Gate == nil {
			return fmt.Errorf("%s: missing gate strategy", d)
		}
		if o, ok := d.Orientation(); ok && !o.Window.Valid() {
			return fmt.Errorf("%s: empty orientation window", d)
		}
		if d.Endpoint.Path == "" || d.Endpoint.Path[0] != '/' {
			return fmt.Errorf("%s: endpoint path must start with /", d)
		}
		if d.Endpoint.FrameField == "" || d.Endpoint.VerdictField == "" {
			return fmt.Errorf("%s: frame and verdict fields are required", d)
		}
	}
	return nil
}

// ByOrdinal returns the definition with the given ordinal.
func ByOrdinal(defs []Definition, ordinal int) (Definition, bool) {
	for _, d := range defs {
		if d.Ordinal == ordinal {
			return d, true
		}
	}
	return Definition{}, false
}
