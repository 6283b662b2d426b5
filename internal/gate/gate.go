// Package gate derives device orientation from accelerometer readings and
// decides when an orientation-triggered step may take a picture.
package gate

import (
	"math"
	"sync"
	"time"
)

// Reading is one raw 3-axis accelerometer sample in units of g.
type Reading struct {
	X  float64   `json:"x"`
	Y  float64   `json:"y"`
	Z  float64   `json:"z"`
	At time.Time `json:"-"`
}

// minMagnitude is the shortest vector, in g, taken as a gravity sample.
const minMagnitude = 0.1

// Valid reports whether r can be a gravity sample. Empty and all-zero
// readings cannot.
func (r Reading) Valid() bool {
	return math.Sqrt(r.X*r.X+r.Y*r.Y+r.Z*r.Z) >= minMagnitude
}

// Sample is the pitch/roll pair derived from a Reading, in degrees.
type Sample struct {
	Pitch float64
	Roll  float64
	At    time.Time
}

// FromReading converts a raw reading into pitch and roll.
func FromReading(r Reading) Sample {
	pitch := math.Atan2(-r.X, math.Sqrt(r.Y*r.Y+r.Z*r.Z))
	roll := math.Atan2(r.Y, r.Z)
	return Sample{
		Pitch: pitch * 180 / math.Pi,
		Roll:  roll * 180 / math.Pi,
		At:    r.At,
	}
}

// Window is an inclusive tolerance window in whole degrees.
type Window struct {
	PitchMin float64 `yaml:"pitch_min"`
	PitchMax float64 `yaml:"pitch_max"`
	RollMin  float64 `yaml:"roll_min"`
	RollMax  float64 `yaml:"roll_max"`
}

// Contains reports whether the sample, rounded to whole degrees, lies inside the window.
func (w Window) Contains(s Sample) bool {
	p := math.Round(s.Pitch)
	r := math.Round(s.Roll)
	return p >= w.PitchMin && p <= w.PitchMax && r >= w.RollMin && r <= w.RollMax
}

// Valid reports whether both ranges are non-empty.
func (w Window) Valid() bool {
	return w.PitchMin <= w.PitchMax && w.RollMin <= w.RollMax
}

// Eligibility carries the session flags the gate depends on.
type Eligibility struct {
	InFlight    bool
	Accepted    bool
	CoolingDown bool
}

// Open reports whether the session can take a new attempt at all.
func (e Eligibility) Open() bool {
	return !e.InFlight && !e.Accepted && !e.CoolingDown
}

// ShouldFire is the gate predicate: ready, eligible and in range.
func ShouldFire(s Sample, w Window, ready bool, e Eligibility) bool {
	return ready && e.Open() && w.Contains(s)
}

// Gate keeps the most recent sample and a one-way ready latch for one step.
// It is safe for concurrent use.
type Gate struct {
	window Window

	mu     sync.Mutex
	latest Sample
	seen   bool
	ready  bool
}

// New creates a gate for the given window.
func New(w Window) *Gate {
	return &Gate{window: w}
}

// Window returns the gate's tolerance window.
func (g *Gate) Window() Window {
	return g.window
}

// MarkReady sets the ready latch. It cannot be cleared.
func (g *Gate) MarkReady() {
	g.mu.Lock()
	g.ready = true
	g.mu.Unlock()
}

// Observe replaces the latest sample with one derived from r. Invalid
// readings are dropped and report false.
func (g *Gate) Observe(r Reading) (Sample, bool) {
	if !r.Valid() {
		return Sample{}, false
	}
	s := FromReading(r)
	g.mu.Lock()
	g.latest = s
	g.seen = true
	g.mu.Unlock()
	return s, true
}

// ShouldFire evaluates the predicate against the latest sample.
// It never fires before the first sample or before the ready latch is set.
func (g *Gate) ShouldFire(e Eligibility) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seen {
		return false
	}
	return ShouldFire(g.latest, g.window, g.ready, e)
}
