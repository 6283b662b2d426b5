package cue

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalPlayerPrintsAndBlocks(t *testing.T) {
	var buf bytes.Buffer
	p := NewTerminalPlayer(&buf, map[Cue]time.Duration{Intro: 30 * time.Millisecond}, nil)
	p.Say(Intro, "Face the camera")

	start := time.Now()
	require.NoError(t, p.Play(context.Background(), Intro))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Contains(t, buf.String(), "Face the camera")

	require.NoError(t, p.Play(context.Background(), Success))
	assert.Contains(t, buf.String(), "Frame accepted")
}

func TestTerminalPlayerCancel(t *testing.T) {
	p := NewTerminalPlayer(nil, map[Cue]time.Duration{Intro: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Play(ctx, Intro), context.Canceled)
}

func TestSilent(t *testing.T) {
	assert.NoError(t, Silent{}.Play(context.Background(), Failure))
}
