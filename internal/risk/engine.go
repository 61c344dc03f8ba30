package risk

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/lumenguard/lumenguard/internal/idgen"
	"github.com/lumenguard/lumenguard/internal/metrics"
)

// ErrInvalidSubject indicates the subject identifier itself is malformed.
// Unlike signal failures this is fatal: no assessment is produced.
var ErrInvalidSubject = errors.New("invalid subject identifier")

// Default engine tuning.
const (
	DefaultSignalTimeout   = 3 * time.Second
	DefaultAnalysisTimeout = 10 * time.Second
	DefaultLargeTransfer   = 10000.0
	DefaultMaxOperations   = 20

	// Simulated resource bounds for contract transactions.
	maxCPUInstructions = 100_000_000
	maxMemoryBytes     = 40 << 20
)

// Engine computes risk assessments from injected signal providers.
// It holds no mutable per-subject state: assessments are pure functions of
// the signal snapshot, which is what makes them reproducible.
type Engine struct {
	p      Providers
	store  Store
	logger *slog.Logger

	signalTimeout   time.Duration
	analysisTimeout time.Duration
	largeTransfer   float64
	maxOps          int

	onAssessment func(*RiskAssessment) // optional broadcast hook
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the audit store for completed assessments.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimeouts overrides the per-signal and overall analysis budgets.
func WithTimeouts(signal, analysis time.Duration) Option {
	return func(e *Engine) {
		e.signalTimeout = signal
		e.analysisTimeout = analysis
	}
}

// WithLargeTransferThreshold overrides the large-payment heuristic bound.
func WithLargeTransferThreshold(amount float64) Option {
	return func(e *Engine) { e.largeTransfer = amount }
}

// WithMaxOperations overrides the operation-count reasonableness bound.
func WithMaxOperations(n int) Option {
	return func(e *Engine) { e.maxOps = n }
}

// WithAssessmentHook registers a callback invoked after every completed
// assessment (used for the realtime threat feed).
func WithAssessmentHook(fn func(*RiskAssessment)) Option {
	return func(e *Engine) { e.onAssessment = fn }
}

// NewEngine creates a risk engine over the given signal providers.
func NewEngine(p Providers, opts ...Option) *Engine {
	e := &Engine{
		p:               p,
		logger:          slog.Default(),
		signalTimeout:   DefaultSignalTimeout,
		analysisTimeout: DefaultAnalysisTimeout,
		largeTransfer:   DefaultLargeTransfer,
		maxOps:          DefaultMaxOperations,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// fetchSignal runs one provider call under the per-signal timeout. On error
// the signal is marked unavailable and the analysis continues; this is the
// fail-open contract from the package doc.
func fetchSignal[T any](ctx context.Context, e *Engine, set *signalSet, name string, fn func(context.Context) (T, error)) (T, bool) {
	sctx, cancel := context.WithTimeout(ctx, e.signalTimeout)
	defer cancel()

	v, err := fn(sctx)
	if err != nil {
		e.logger.Warn("signal unavailable", "signal", name, "error", err)
		set.markUnavailable(name)
		metrics.SignalFetchFailures.WithLabelValues(name).Inc()
		var zero T
		return zero, false
	}
	return v, true
}

// finish assembles the final assessment: clamp, level, recommendations,
// audit record, metrics, broadcast.
func (e *Engine) finish(subject string, st SubjectType, score float64, threats []Threat, set *signalSet, partial bool, started time.Time) *RiskAssessment {
	score = math.Round(ClampScore(score)*10) / 10

	a := &RiskAssessment{
		ID:                 idgen.WithPrefix("risk_"),
		Subject:            subject,
		SubjectType:        st,
		Score:              score,
		Level:              LevelForScore(score),
		Threats:            threats,
		SignalsUnavailable: set.names(),
		Partial:            partial,
		EvaluatedAt:        time.Now(),
	}
	a.Recommendations = recommendationsFor(a.Level, a.Threats)

	metrics.AssessmentsTotal.WithLabelValues(string(st), string(a.Level)).Inc()
	metrics.AnalysisDuration.WithLabelValues(string(st)).Observe(time.Since(started).Seconds())
	if partial {
		metrics.PartialAssessmentsTotal.Inc()
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		rec := *a
		go func() {
			if err := e.store.Record(context.Background(), &rec); err != nil {
				e.logger.Warn("failed to record assessment", "subject", subject, "error", err)
			}
		}()
	}

	if e.onAssessment != nil {
		e.onAssessment(a)
	}

	return a
}

// override builds the absolute blacklist verdict: exactly (100, CRITICAL)
// regardless of any other signal. Implemented as an early return in each
// model, never as an additive term.
func (e *Engine) override(subject string, st SubjectType, rec *BlacklistRecord, set *signalSet, started time.Time) *RiskAssessment {
	reason := rec.Reason
	if reason == "" {
		reason = "subject appears on the blacklist"
	}
	threat := Threat{
		Name:        "blacklisted",
		Severity:    SeverityCritical,
		Description: reason,
		Impact:      MaxScore,
	}
	a := e.finish(subject, st, MaxScore, []Threat{threat}, set, false, started)
	return a
}
