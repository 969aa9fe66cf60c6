// Package summary turns a consultation visit into a streamed LLM summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medinotes/internal/observability/metrics"
	"github.com/wolfman30/medinotes/pkg/logging"
)

var tracer = otel.Tracer("medinotes.internal.summary")

// Stream outcomes as reported to metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Auditor records the consultation lifecycle. *audit.Service satisfies it,
// including its nil value.
type Auditor interface {
	LogStarted(ctx context.Context, consultationID, subject, sessionID, provider, model string) error
	LogCompleted(ctx context.Context, consultationID, subject, provider, model string, fragments int, elapsed time.Duration, fallbackUsed bool) error
	LogFailed(ctx context.Context, consultationID, subject, provider, model string, fragments int, elapsed time.Duration, cause error, clientAbort bool) error
}

// Config selects the model and generation limits.
type Config struct {
	Provider    string
	Model       string
	MaxTokens   int32
	Temperature float32
	// Timeout bounds a whole stream; zero disables it.
	Timeout time.Duration
}

// Caller identifies who asked for the summary.
type Caller struct {
	Subject   string
	SessionID string
}

// Service opens summary streams.
type Service struct {
	llm     StreamingLLMClient
	cfg     Config
	metrics *metrics.ConsultationMetrics
	audit   Auditor
	logger  *logging.Logger
}

func NewService(llm StreamingLLMClient, cfg Config, m *metrics.ConsultationMetrics, auditor Auditor, logger *logging.Logger) *Service {
	if llm == nil {
		panic("summary: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{llm: llm, cfg: cfg, metrics: m, audit: auditor, logger: logger}
}

// Stream is one open summary stream. Run must be called exactly once.
type Stream struct {
	svc       *Service
	id        string
	caller    Caller
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	chunks    <-chan StreamChunk
	started   time.Time
	fragments int
	fallback  bool
	usage     TokenUsage
}

// Start validates v and opens the provider stream. Errors returned here
// happen before anything was written to the client.
func (s *Service) Start(ctx context.Context, v Visit, caller Caller) (*Stream, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	st := &Stream{
		svc:     s,
		id:      uuid.NewString(),
		caller:  caller,
		parent:  ctx,
		started: time.Now(),
	}
	if s.cfg.Timeout > 0 {
		st.ctx, st.cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	} else {
		st.ctx, st.cancel = context.WithCancel(ctx)
	}
	st.ctx, st.span = tracer.Start(st.ctx, "summary.stream")
	st.span.SetAttributes(
		attribute.String("medinotes.consultation_id", st.id),
		attribute.String("medinotes.llm.provider", s.cfg.Provider),
		attribute.String("medinotes.llm.model", s.cfg.Model),
	)

	if s.audit != nil {
		if err := s.audit.LogStarted(ctx, st.id, caller.Subject, caller.SessionID, s.cfg.Provider, s.cfg.Model); err != nil {
			s.logger.Warn("audit start failed", "error", err, "consultation_id", st.id)
		}
	}

	chunks, err := s.llm.CompleteStream(st.ctx, BuildRequest(v, s.cfg.Model, s.cfg.MaxTokens, s.cfg.Temperature))
	if err != nil {
		err = fmt.Errorf("summary: open stream: %w", err)
		st.finish(err, false)
		return nil, err
	}
	st.chunks = chunks
	return st, nil
}

// ID returns the consultation id used in logs, spans and audit events.
func (st *Stream) ID() string {
	return st.id
}

// Run forwards fragments to emit in arrival order until the provider
// finishes, fails, or emit returns an error. An emit error means the client
// went away and is returned unchanged.
func (st *Stream) Run(emit func(text string) error) error {
	var (
		runErr      error
		clientAbort bool
	)
	for chunk := range st.chunks {
		if chunk.Fallback {
			st.fallback = true
		}
		if chunk.Text != "" {
			if st.fragments == 0 {
				st.svc.metrics.ObserveFirstFragment(st.svc.cfg.Provider, time.Since(st.started).Seconds())
			}
			st.fragments++
			if err := emit(chunk.Text); err != nil {
				runErr = err
				clientAbort = true
				break
			}
		}
		if chunk.Done {
			st.usage = chunk.Usage
			runErr = chunk.Error
			break
		}
	}
	if runErr == nil {
		if err := st.ctx.Err(); err != nil {
			runErr = err
			clientAbort = errors.Is(err, context.Canceled)
		}
	}
	st.finish(runErr, clientAbort)
	return runErr
}

func (st *Stream) finish(err error, clientAbort bool) {
	s := st.svc
	elapsed := time.Since(st.started)
	st.cancel()

	outcome := OutcomeCompleted
	switch {
	case clientAbort:
		outcome = OutcomeAborted
	case err != nil:
		outcome = OutcomeFailed
	}

	s.metrics.ObserveStream(s.cfg.Provider, outcome, elapsed.Seconds(), st.fragments)
	if st.span.IsRecording() {
		st.span.SetAttributes(
			attribute.String("medinotes.stream.outcome", outcome),
			attribute.Int("medinotes.stream.fragments", st.fragments),
			attribute.Float64("medinotes.stream.latency_ms", float64(elapsed.Milliseconds())),
			attribute.Int("medinotes.llm.input_tokens", int(st.usage.InputTokens)),
			attribute.Int("medinotes.llm.output_tokens", int(st.usage.OutputTokens)),
			attribute.Bool("medinotes.llm.fallback", st.fallback),
		)
	}
	if err != nil {
		st.span.RecordError(err)
	}
	st.span.End()

	logger := s.logger.With("consultation_id", st.id, "outcome", outcome, "fragments", st.fragments, "duration_ms", elapsed.Milliseconds())
	if outcome == OutcomeFailed {
		logger.Error("consultation stream failed", "error", err)
	} else {
		logger.Info("consultation stream finished")
	}

	if s.audit == nil {
		return
	}
	auditCtx := context.WithoutCancel(st.parent)
	var auditErr error
	if outcome == OutcomeCompleted {
		auditErr = s.audit.LogCompleted(auditCtx, st.id, st.caller.Subject, s.cfg.Provider, s.cfg.Model, st.fragments, elapsed, st.fallback)
	} else {
		auditErr = s.audit.LogFailed(auditCtx, st.id, st.caller.Subject, s.cfg.Provider, s.cfg.Model, st.fragments, elapsed, err, clientAbort)
	}
	if auditErr != nil {
		logger.Warn("audit finish failed", "error", auditErr)
	}
}
