// Package cue plays the audible/visual prompts that accompany a capture step.
package cue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Cue identifies a prompt.
type Cue string

const (
	// Intro is the step's guidance prompt; orientation steps wait for it to finish.
	Intro Cue = "intro"
	// Analyzing is played when an orientation-triggered frame is submitted.
	Analyzing Cue = "analyzing"
	// Success is played once a verdict is accepted.
	Success Cue = "success"
	// Failure is played after a rejected verdict.
	Failure Cue = "failure"
)

// Player plays a cue and returns when it has finished.
type Player interface {
	Play(ctx context.Context, c Cue) error
}

// Speaker is a Player whose cue text can be replaced.
type Speaker interface {
	Player
	Say(c Cue, text string)
}

// DefaultDurations approximates the length of each recorded prompt.
var DefaultDurations = map[Cue]time.Duration{
	Intro:     2 * time.Second,
	Analyzing: 500 * time.Millisecond,
	Success:   700 * time.Millisecond,
	Failure:   700 * time.Millisecond,
}

// TerminalPlayer renders cues as text lines and blocks for the cue's duration.
type TerminalPlayer struct {
	out       io.Writer
	durations map[Cue]time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	text map[Cue]string
}

// Compile-time check that TerminalPlayer implements Speaker.
var _ Speaker = (*TerminalPlayer)(nil)

// NewTerminalPlayer writes cues to out. A nil durations map uses DefaultDurations;
// a nil out only logs.
func NewTerminalPlayer(out io.Writer, durations map[Cue]time.Duration, logger *slog.Logger) *TerminalPlayer {
	if durations == nil {
		durations = DefaultDurations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalPlayer{
		out:       out,
		durations: durations,
		logger:    logger,
		text: map[Cue]string{
			Analyzing: "Analyzing...",
			Success:   "\a✓ Frame accepted",
			Failure:   "\a✗ Not quite, hold on and try again",
		},
	}
}

// Say overrides the text printed for a cue, e.g. the step guidance for Intro.
func (p *TerminalPlayer) Say(c Cue, text string) {
	p.mu.Lock()
	p.text[c] = text
	p.mu.Unlock()
}

// Play prints the cue and waits its duration or until ctx is done.
func (p *TerminalPlayer) Play(ctx context.Context, c Cue) error {
	p.logger.Debug("playing cue", "cue", string(c))
	p.mu.Lock()
	text := p.text[c]
	p.mu.Unlock()
	if p.out != nil && text != "" {
		fmt.Fprintln(p.out, text)
	}

	d := p.durations[c]
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Silent is a Player that returns immediately.
type Silent struct{}

// Play implements Player.
func (Silent) Play(ctx context.Context, c Cue) error {
	return ctx.Err()
}
