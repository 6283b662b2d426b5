package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/raphaelgruber/hairscan/internal/metrics"
	"github.com/raphaelgruber/hairscan/internal/verify"
	"github.com/tmc/langchaingo/llms"
)

// ErrFatalAPI marks provider errors that retrying will not fix
// (credentials, billing, quota). It matches verify.ErrFatal.
var ErrFatalAPI = fmt.Errorf("fatal LLM API error: %w", verify.ErrFatal)

// ErrUnclearAnswer is set on a verdict when the model answered neither yes nor no.
var ErrUnclearAnswer = errors.New("model answer is neither yes nor no")

const systemPrompt = `You check photos taken for a hair transplant assessment.
Answer the question about the attached photo with a single word: Yes or No.`

// VisionVerifier verifies a frame by asking a multimodal model the step's prompt.
type VisionVerifier struct {
	model     llms.Model
	modelName string
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// Compile-time check that VisionVerifier implements verify.Verifier.
var _ verify.Verifier = (*VisionVerifier)(nil)

// Option configures a VisionVerifier.
type Option func(*VisionVerifier)

// WithLogger sets the verifier's logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *VisionVerifier) { v.logger = l }
}

// WithMetrics records verification timings in the collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(v *VisionVerifier) { v.metrics = m }
}

// NewVisionVerifier wraps model. modelName is only used for logging.
func NewVisionVerifier(model llms.Model, modelName string, opts ...Option) *VisionVerifier {
	v := &VisionVerifier{
		model:     model,
		modelName: modelName,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify sends the frame with the step prompt. Like every verifier it fails
// closed: any error yields a negative verdict.
func (v *VisionVerifier) Verify(ctx context.Context, req verify.Request) verify.Verdict {
	start := time.Now()
	verdict := v.verify(ctx, req)
	verdict.Duration = time.Since(start)

	if v.metrics != nil {
		v.metrics.RecordTiming(metrics.OpVerify, verdict.Duration)
	}

	attrs := []any{
		"step", req.Step.Ordinal,
		"model", v.modelName,
		"accepted", verdict.Accepted,
		"duration_ms", verdict.Duration.Milliseconds(),
	}
	if verdict.Err != nil {
		v.logger.Warn("vision verification failed", append(attrs, "error", verdict.Err)...)
	} else {
		v.logger.Debug("vision verification complete", attrs...)
	}
	return verdict
}

func (v *VisionVerifier) verify(ctx context.Context, req verify.Request) verify.Verdict {
	if req.Step.Prompt == "" {
		return verify.Verdict{Err: fmt.Errorf("step %d has no vision prompt", req.Step.Ordinal)}
	}
	if req.Frame == "" {
		return verify.Verdict{Err: verify.ErrNoFrame}
	}
	data, err := os.ReadFile(req.Frame)
	if err != nil {
		return verify.Verdict{Err: fmt.Errorf("%w: %v", verify.ErrNoFrame, err)}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart("image/jpeg", data),
				llms.TextPart(req.Step.Prompt),
			},
		},
	}

	resp, err := v.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0),
		llms.WithMaxTokens(8),
	)
	if err != nil {
		return verify.Verdict{Err: fmt.Errorf("%w: %w", verify.ErrTransport, wrapFatalError(err))}
	}
	if len(resp.Choices) == 0 {
		return verify.Verdict{Err: fmt.Errorf("%w: no response choices", verify.ErrBadResponse)}
	}

	answer := resp.Choices[0].Content
	accepted, ok := ParseAnswer(answer)
	fields := map[string]any{"answer": strings.TrimSpace(answer)}
	if !ok {
		return verify.Verdict{Metrics: fields, Err: fmt.Errorf("%w: %q", ErrUnclearAnswer, answer)}
	}
	return verify.Verdict{Accepted: accepted, Metrics: fields}
}

// ParseAnswer reads a Yes/No answer from its first word. The second result
// is false when the first word is neither.
func ParseAnswer(answer string) (accepted, ok bool) {
	words := strings.FieldsFunc(strings.ToLower(answer), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 0 {
		return false, false
	}
	switch words[0] {
	case "yes":
		return true, true
	case "no":
		return false, true
	}
	return false, false
}

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// isFatalAPIError reports whether err is a provider error that retrying will not fix.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
