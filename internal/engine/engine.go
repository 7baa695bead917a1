package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cfwatch/internal/logger"
	"cfwatch/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricSource supplies the current value of a metric, optionally scoped to
// a zone, over a lookback window. Implementations may block; the engine
// bounds every call with its own timeout.
type MetricSource interface {
	Query(ctx context.Context, metric Metric, zone string, window time.Duration) (float64, error)
}

// Notifier consumes alerts on firing transitions.
type Notifier interface {
	Notify(alert *models.Alert)
}

// Config holds the scheduler's tunables.
type Config struct {
	TickInterval time.Duration // how often enabled rules are evaluated
	QueryTimeout time.Duration // per-rule metric source timeout
	Cooldown     time.Duration // restart-resume window for unacknowledged alerts
	Workers      int           // per-tick query fan-out
}

// Engine drives the evaluation loop: each tick it samples metrics for the
// enabled rules, runs the evaluator against current and baseline values,
// and feeds the outcome through the per-rule state machine. Ticks are
// serialized; a tick that overruns the interval delays the next one rather
// than overlapping it.
type Engine struct {
	cfg       Config
	rules     *RuleStore
	history   *HistoryStore
	samples   *SampleHistory
	source    MetricSource
	notifiers []Notifier
	now       func() time.Time

	mu       sync.Mutex
	states   *stateTracker
	running  bool
	lastTick time.Time

	// tickMu serializes evaluation passes so a manual trigger can never
	// overlap a scheduled tick.
	tickMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the engine.
type Option func(*Engine)

// WithNotifier registers a consumer for emitted alerts.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifiers = append(e.notifiers, n)
	}
}

// WithClock overrides the engine's time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine. Initialize must be called before any evaluation
// occurs.
func New(rules *RuleStore, history *HistoryStore, source MetricSource, cfg Config, opts ...Option) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}

	e := &Engine{
		cfg:     cfg,
		rules:   rules,
		history: history,
		samples: NewSampleHistory(cfg.TickInterval * 2),
		source:  source,
		now:     time.Now,
		states:  newStateTracker(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Initialize reconstructs per-rule firing state from persisted history and
// starts the tick loop. Calling it on a running engine is a no-op.
//
// A rule resumes as firing when its most recent unacknowledged alert was
// emitted within the cooldown window, so a restart does not re-fire a
// condition that is already known and unacknowledged.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	rules, err := e.rules.ListEnabled()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	// Discard anything left over from a previous failed attempt so the
	// reconstruction below is the only source of firing state.
	e.states = newStateTracker()

	now := e.now()
	for _, rule := range rules {
		last, err := e.history.LatestUnacknowledged(rule.ID)
		if err != nil {
			return fmt.Errorf("failed to rebuild state for rule %s: %w", rule.ID, err)
		}
		if last != nil && now.Sub(last.TriggeredAt) < e.cfg.Cooldown {
			e.states.set(rule.ID, StateFiring)
			logger.Info("Resuming firing state",
				zap.String("rule_id", rule.ID),
				zap.String("rule_name", rule.Name),
				zap.Time("triggered_at", last.TriggeredAt),
			)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.loop(ctx)

	logger.Info("Alert engine started",
		zap.Duration("tick_interval", e.cfg.TickInterval),
		zap.Int("rules", len(rules)),
	)
	return nil
}

// Shutdown stops the tick loop and cancels any in-flight metric queries.
// All durable writes happen as they occur, so there is nothing to flush.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	logger.Info("Alert engine stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

// EvaluateNow runs a single evaluation pass immediately, outside the ticker.
// Used by the manual trigger endpoint and tests. Returns ErrNotRunning when
// the engine has not been initialized or was already shut down.
func (e *Engine) EvaluateNow(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	e.runTick(ctx)
	return nil
}

type queryResult struct {
	rule  models.AlertRule
	value float64
	err   error
}

func (e *Engine) runTick(ctx context.Context) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	all, err := e.rules.List()
	if err != nil {
		// Storage hiccups must not stop alerting; retry next tick.
		logger.Error("Tick skipped, failed to load rules", zap.Error(err))
		return
	}

	now := e.now()

	var enabled []models.AlertRule
	var maxWindow time.Duration
	for _, rule := range all {
		if !rule.Enabled {
			continue
		}
		enabled = append(enabled, rule)
		if Condition(rule.Condition).NeedsWindow() {
			if w := time.Duration(rule.TimeWindowMinutes) * time.Minute; w > maxWindow {
				maxWindow = w
			}
		}
	}
	e.samples.SetRetention(maxWindow + e.cfg.TickInterval)

	results := e.queryAll(ctx, enabled)

	// Apply phase: all state mutations happen here, under one lock, after
	// every metric query has returned. No lock is held across a source call.
	e.mu.Lock()
	valid := make(map[string]bool, len(all))
	for _, rule := range all {
		valid[rule.ID] = true
		if !rule.Enabled {
			// Disabling forces the state back to normal without emitting.
			e.states.set(rule.ID, StateNormal)
		}
	}
	e.states.prune(valid)

	var emitted []*models.Alert
	for _, res := range results {
		if res.err != nil {
			// Skip the rule this tick, preserving its previous state.
			logger.Warn("Metric unavailable, rule skipped",
				zap.String("rule_id", res.rule.ID),
				zap.String("metric", res.rule.Metric),
				zap.Error(res.err),
			)
			continue
		}

		metric := Metric(res.rule.Metric)
		e.samples.Record(metric, res.rule.Zone, res.value, now)

		var baseline *float64
		if Condition(res.rule.Condition).NeedsWindow() {
			window := time.Duration(res.rule.TimeWindowMinutes) * time.Minute
			if v, ok := e.samples.ValueAt(metric, res.rule.Zone, now.Add(-window), e.cfg.TickInterval); ok {
				baseline = &v
			}
		}

		decision := Evaluate(&res.rule, res.value, baseline)
		if !e.states.transition(res.rule.ID, decision.Fired) {
			continue
		}

		alert := e.buildAlert(&res.rule, res.value, decision, now)
		if err := e.history.Append(alert); err != nil {
			// Revert so the transition is retried next tick instead of the
			// alert being lost.
			e.states.set(res.rule.ID, StateNormal)
			logger.Error("Failed to persist alert",
				zap.String("rule_id", res.rule.ID),
				zap.Error(err),
			)
			continue
		}
		emitted = append(emitted, alert)
	}
	e.lastTick = now
	e.mu.Unlock()

	for _, alert := range emitted {
		logger.Warn("ALERT",
			zap.String("rule_name", alert.RuleName),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
		for _, n := range e.notifiers {
			n.Notify(alert)
		}
	}
}

// queryAll fans the per-rule metric queries out over a bounded worker set.
// Each query carries its own timeout so one slow backend degrades one
// rule's freshness without starving the rest of the tick.
func (e *Engine) queryAll(ctx context.Context, rules []models.AlertRule) []queryResult {
	results := make([]queryResult, len(rules))

	sem := make(chan struct{}, e.cfg.Workers)
	var wg sync.WaitGroup
	for i, rule := range rules {
		wg.Add(1)
		go func(i int, rule models.AlertRule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			qctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
			defer cancel()

			window := e.cfg.TickInterval
			value, err := e.source.Query(qctx, Metric(rule.Metric), rule.Zone, window)
			if err != nil {
				err = fmt.Errorf("%w: %v", ErrMetricUnavailable, err)
			}
			results[i] = queryResult{rule: rule, value: value, err: err}
		}(i, rule)
	}
	wg.Wait()

	return results
}

func (e *Engine) buildAlert(rule *models.AlertRule, current float64, decision Decision, now time.Time) *models.Alert {
	metric := Metric(rule.Metric)

	var message string
	switch Condition(rule.Condition) {
	case ConditionThreshold:
		message = fmt.Sprintf("%s at %.0f, threshold %.0f", metric.Label(), current, rule.Value)
	case ConditionIncrease:
		message = fmt.Sprintf("%s up %.1f%% over the last %d minutes, threshold %.0f%%",
			metric.Label(), decision.Change, rule.TimeWindowMinutes, rule.Value)
	case ConditionDecrease:
		message = fmt.Sprintf("%s down %.1f%% over the last %d minutes, threshold %.0f%%",
			metric.Label(), -decision.Change, rule.TimeWindowMinutes, rule.Value)
	}

	return &models.Alert{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Metric:      rule.Metric,
		Condition:   rule.Condition,
		Zone:        rule.Zone,
		Severity:    string(Classify(rule, current, decision.Change)),
		Message:     message,
		Observed:    current,
		Threshold:   rule.Value,
		TriggeredAt: now,
	}
}

// Status is a snapshot of the engine for the status endpoint.
type Status struct {
	Running  bool              `json:"running"`
	LastTick time.Time         `json:"last_tick"`
	Firing   map[string]string `json:"firing"` // rule id -> state
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:  e.running,
		LastTick: e.lastTick,
		Firing:   e.states.snapshot(),
	}
}
