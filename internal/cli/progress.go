package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/hairscan/internal/capture"
	"github.com/raphaelgruber/hairscan/internal/gate"
	"github.com/raphaelgruber/hairscan/internal/models"
	"github.com/raphaelgruber/hairscan/internal/steps"
)

// maxCueLines is how many recent cue lines the view keeps.
const maxCueLines = 3

// Theme holds the color scheme for the capture display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) pendingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.ProgressBg)
}

// stepStartMsg announces the step whose session is about to run.
type stepStartMsg struct {
	def steps.Definition
}

// stepDoneMsg is the advance signal for a committed step.
type stepDoneMsg struct {
	def steps.Definition
	ref string
}

// eventMsg carries a session event.
type eventMsg capture.Event

// cueMsg is a line printed by the cue player.
type cueMsg string

// workflowDoneMsg ends the view.
type workflowDoneMsg struct {
	err error
}

// sensorStatus reports how many phones feed orientation data.
// *sensor.Hub implements it.
type sensorStatus interface {
	Clients() int
}

// captureModel is the bubbletea model for a running capture.
type captureModel struct {
	steps    []steps.Definition
	sensor   sensorStatus
	done     map[int]bool
	current  steps.Definition
	state    capture.State
	sample   *gate.Sample
	inRange  bool
	attempts int
	last     *capture.Attempt
	cues     []string
	progress progress.Model
	theme    Theme
	cancel   context.CancelFunc
	finished bool
	quitting bool
	err      error
}

// newCaptureModel creates a view for record. cancel stops the workflow when
// the user quits; sensor may be nil.
func newCaptureModel(defs []steps.Definition, record *models.Analysis, sensor sensorStatus, cancel context.CancelFunc) captureModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	done := make(map[int]bool, len(defs))
	for _, def := range defs {
		done[def.Ordinal] = record.StepDone(def.Ordinal)
	}

	return captureModel{
		steps:    defs,
		sensor:   sensor,
		done:     done,
		progress: prog,
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m captureModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m captureModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case stepStartMsg:
		m.current = msg.def
		m.state = capture.Idle
		m.sample = nil
		m.inRange = false
		m.attempts = 0
		m.last = nil
		m.cues = nil

	case eventMsg:
		m.applyEvent(capture.Event(msg))

	case cueMsg:
		m.cues = append(m.cues, string(msg))
		if len(m.cues) > maxCueLines {
			m.cues = m.cues[len(m.cues)-maxCueLines:]
		}

	case stepDoneMsg:
		m.done[msg.def.Ordinal] = true

	case workflowDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *captureModel) applyEvent(e capture.Event) {
	if e.Step != m.current.Ordinal {
		return
	}
	switch e.Kind {
	case capture.EventState:
		m.state = e.State
	case capture.EventSample:
		m.sample = e.Sample
		m.inRange = e.InRange
	case capture.EventAttempt:
		m.attempts++
		m.last = e.Attempt
	case capture.EventDone:
		m.done[e.Step] = true
	}
}

// View renders the capture display.
func (m captureModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m captureModel) completed() int {
	n := 0
	for _, ok := range m.done {
		if ok {
			n++
		}
	}
	return n
}

// stepBar renders one marker per step.
func (m captureModel) stepBar() string {
	marks := make([]string, 0, len(m.steps))
	for _, def := range m.steps {
		label := fmt.Sprintf("%d", def.Ordinal)
		switch {
		case m.done[def.Ordinal]:
			marks = append(marks, m.theme.completedStyle().Render("● "+label))
		case def.Ordinal == m.current.Ordinal:
			marks = append(marks, m.theme.statusStyle().Render("◉ "+label))
		default:
			marks = append(marks, m.theme.pendingStyle().Render("○ "+label))
		}
	}
	return strings.Join(marks, "  ")
}

// renderContent builds the display string.
func (m captureModel) renderContent() string {
	if m.finished || m.quitting {
		return m.finalView()
	}

	var b strings.Builder

	var pct float64
	if len(m.steps) > 0 {
		pct = float64(m.completed()) / float64(len(m.steps))
	}
	fmt.Fprintf(&b, "%s  %s %d/%d steps\n\n", m.stepBar(), m.progress.ViewAs(pct), m.completed(), len(m.steps))

	if m.current.Ordinal == 0 {
		b.WriteString("Preparing capture...\n")
		return b.String()
	}

	title := fmt.Sprintf("Step %d: %s", m.current.Ordinal, m.current.Title)
	fmt.Fprintf(&b, "%s %s\n", m.theme.completedStyle().Render(title), m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.state)))
	fmt.Fprintf(&b, "%s\n\n", m.current.Guidance)

	if _, ok := m.current.Orientation(); ok {
		b.WriteString(m.orientationLine())
		b.WriteString("\n")
	}

	if m.last != nil {
		b.WriteString(m.attemptLine())
		b.WriteString("\n")
	}

	for _, line := range m.cues {
		fmt.Fprintf(&b, "%s\n", line)
	}

	b.WriteString("\n")
	b.WriteString(m.theme.hintStyle().Render("Press Ctrl+C to stop, resume later with 'hairscan capture --resume'"))
	b.WriteString("\n")
	return b.String()
}

func (m captureModel) orientationLine() string {
	connected := m.sensor == nil || m.sensor.Clients() > 0
	if !connected {
		return m.theme.errorStyle().Render("Phone not connected") + "  " +
			m.theme.hintStyle().Render("open the sensor page on the phone")
	}
	if m.sample == nil {
		if m.sensor == nil {
			return m.theme.hintStyle().Render("Waiting for orientation data...")
		}
		return m.theme.hintStyle().Render("Phone connected, waiting for orientation data...")
	}
	line := fmt.Sprintf("pitch %4.0f°  roll %4.0f°", m.sample.Pitch, m.sample.Roll)
	if m.inRange {
		return line + "  " + m.theme.completedStyle().Render("hold still")
	}
	return line + "  " + m.theme.hintStyle().Render("adjust the phone")
}

func (m captureModel) attemptLine() string {
	a := m.last
	switch {
	case a.Verdict == capture.VerdictAccepted:
		return m.theme.completedStyle().Render(fmt.Sprintf("✓ Attempt %d accepted", m.attempts))
	case a.Err != nil && !errors.Is(a.Err, capture.ErrVerificationRejected):
		return m.theme.hintStyle().Render(fmt.Sprintf("Attempt %d could not be checked, retrying", m.attempts))
	default:
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ Attempt %d rejected", m.attempts))
	}
}

// finalView renders the completion message.
func (m captureModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render(fmt.Sprintf(
			"\nCapture stopped after %d/%d steps.\nUse 'hairscan capture --resume' to continue.\n",
			m.completed(), len(m.steps)))
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Capture failed: %s\n", m.err))
	}

	return m.stepBar() + "\n" + m.theme.completedStyle().Render("✓ All steps captured") + "\n"
}

// eventPump forwards session events to the program without blocking the
// session's run loop on orientation samples.
type eventPump struct {
	ch   chan capture.Event
	done chan struct{}
}

func newEventPump(send func(tea.Msg)) *eventPump {
	p := &eventPump{
		ch:   make(chan capture.Event, 64),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for e := range p.ch {
			send(eventMsg(e))
		}
	}()
	return p
}

func (p *eventPump) observe(e capture.Event) {
	if e.Kind == capture.EventSample {
		select {
		case p.ch <- e:
		default:
		}
		return
	}
	p.ch <- e
}

// close stops the pump once no session can publish anymore.
func (p *eventPump) close() {
	close(p.ch)
	<-p.done
}

// cueWriter turns cue player output into cue lines for the view.
type cueWriter struct {
	send func(tea.Msg)
}

func (w cueWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\a", ""))
		if line != "" {
			w.send(cueMsg(line))
		}
	}
	return len(b), nil
}

// uiHooks are the view's inputs a workflow is built with.
type uiHooks struct {
	Observer capture.Observer
	CueOut   io.Writer
}

// RunCaptureProgress runs the workflow returned by build behind the
// interactive capture view. Returns nil when every step is captured or the
// user stops the capture.
func RunCaptureProgress(ctx context.Context, defs []steps.Definition, record *models.Analysis, sensor sensorStatus, build func(uiHooks) (*capture.Workflow, error)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newCaptureModel(defs, record, sensor, cancel))
	events := newEventPump(p.Send)

	wf, err := build(uiHooks{Observer: events.observe, CueOut: cueWriter{send: p.Send}})
	if err != nil {
		events.close()
		return err
	}
	wf.OnStep = func(def steps.Definition, s *capture.Session) {
		p.Send(stepStartMsg{def: def})
	}
	wf.OnAdvance = func(def steps.Definition, ref string) {
		p.Send(stepDoneMsg{def: def, ref: ref})
	}

	errCh := make(chan error, 1)
	go func() {
		err := wf.Run(ctx, record)
		events.close()
		errCh <- err
		p.Send(workflowDoneMsg{err: err})
	}()

	finalModel, err := p.Run()
	cancel()
	wfErr := <-errCh
	if err != nil {
		return fmt.Errorf("capture UI error: %w", err)
	}

	if m, ok := finalModel.(captureModel); ok && m.quitting {
		return nil
	}
	return wfErr
}
