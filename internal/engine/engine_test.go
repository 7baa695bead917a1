package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cfwatch/internal/models"
)

// stubSource serves canned values or errors per metric and counts queries.
type stubSource struct {
	mu     sync.Mutex
	values map[Metric]float64
	errs   map[Metric]error
	calls  int
}

func (s *stubSource) Query(_ context.Context, metric Metric, _ string, _ time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[metric]; err != nil {
		return 0, err
	}
	return s.values[metric], nil
}

func (s *stubSource) set(metric Metric, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[metric] = value
}

func (s *stubSource) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingNotifier captures emitted alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*models.Alert
}

func (n *recordingNotifier) Notify(alert *models.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type engineFixture struct {
	eng      *Engine
	rules    *RuleStore
	history  *HistoryStore
	source   *stubSource
	notifier *recordingNotifier
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db := newTestDB(t)
	f := &engineFixture{
		rules:    NewRuleStore(db),
		history:  NewHistoryStore(db),
		source:   &stubSource{values: make(map[Metric]float64), errs: make(map[Metric]error)},
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
	f.eng = New(f.rules, f.history, f.source, Config{
		TickInterval: time.Minute,
		QueryTimeout: 5 * time.Second,
		Cooldown:     10 * time.Minute,
		Workers:      4,
	}, WithNotifier(f.notifier), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *engineFixture) start(t *testing.T) {
	t.Helper()
	if err := f.eng.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(f.eng.Shutdown)
}

func (f *engineFixture) tick(t *testing.T) {
	t.Helper()
	if err := f.eng.EvaluateNow(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	f.now = f.now.Add(time.Minute)
}

func TestEngineDeduplication(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("5xx over 100"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	// Condition holds for five consecutive ticks: exactly one alert.
	f.source.set(MetricStatus5xx, 150)
	for i := 0; i < 5; i++ {
		f.tick(t)
	}
	if n := f.notifier.count(); n != 1 {
		t.Fatalf("got %d alerts over 5 firing ticks, want 1", n)
	}
	if state := f.eng.Status().Firing[id]; state != "firing" {
		t.Errorf("rule state = %q, want firing", state)
	}

	// Condition clears silently.
	f.source.set(MetricStatus5xx, 50)
	f.tick(t)
	if n := f.notifier.count(); n != 1 {
		t.Fatalf("clearing must not emit, got %d alerts", n)
	}
	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Error("rule should be back to normal")
	}

	// Re-firing after a clear is a new alert.
	f.source.set(MetricStatus5xx, 200)
	f.tick(t)
	if n := f.notifier.count(); n != 2 {
		t.Fatalf("re-fire after clear should emit, got %d alerts", n)
	}

	alerts, err := f.history.List(0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(alerts) != 2 {
		t.Errorf("history has %d alerts, want 2", len(alerts))
	}
}

func TestEngineDecreaseScenario(t *testing.T) {
	f := newEngineFixture(t)

	rule := &models.AlertRule{
		Name:              "2xx traffic drop",
		Metric:            string(MetricStatus2xx),
		Condition:         string(ConditionDecrease),
		Value:             30,
		TimeWindowMinutes: 5,
		Enabled:           true,
	}
	if _, err := f.rules.Create(rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	// Build up five minutes of healthy baseline.
	f.source.set(MetricStatus2xx, 1000)
	for i := 0; i < 5; i++ {
		f.tick(t)
	}
	if n := f.notifier.count(); n != 0 {
		t.Fatalf("steady traffic should not fire, got %d alerts", n)
	}

	// Traffic drops 35% against the 5-minute-old baseline.
	f.source.set(MetricStatus2xx, 650)
	f.tick(t)

	if n := f.notifier.count(); n != 1 {
		t.Fatalf("got %d alerts, want 1", n)
	}
	alert := f.notifier.alerts[0]
	if alert.Severity != string(SeverityLow) {
		t.Errorf("severity = %q, want low (35%% drop vs 30%% threshold)", alert.Severity)
	}
	if alert.Observed != 650 {
		t.Errorf("observed = %v, want 650", alert.Observed)
	}
}

func TestEngineNoBaselineNoFire(t *testing.T) {
	f := newEngineFixture(t)

	rule := &models.AlertRule{
		Name:              "4xx increase",
		Metric:            string(MetricStatus4xx),
		Condition:         string(ConditionIncrease),
		Value:             50,
		TimeWindowMinutes: 5,
		Enabled:           true,
	}
	if _, err := f.rules.Create(rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	// First tick ever: no 5-minute-old sample exists, so even a huge value
	// must not fire.
	f.source.set(MetricStatus4xx, 1e6)
	f.tick(t)
	if n := f.notifier.count(); n != 0 {
		t.Fatalf("missing baseline must not fire, got %d alerts", n)
	}
}

func TestEngineDisabledRule(t *testing.T) {
	f := newEngineFixture(t)

	rule := testRule("disabled watcher")
	rule.Enabled = false
	id, err := f.rules.Create(rule)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	f.source.set(MetricStatus5xx, 1e6)
	f.tick(t)

	if n := f.source.queryCount(); n != 0 {
		t.Errorf("disabled rule caused %d metric queries, want 0", n)
	}
	if n := f.notifier.count(); n != 0 {
		t.Errorf("disabled rule emitted %d alerts, want 0", n)
	}
	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Error("disabled rule must not be firing")
	}
}

func TestEngineDisableForcesNormal(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("flappy"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	f.source.set(MetricStatus5xx, 500)
	f.tick(t)
	if _, firing := f.eng.Status().Firing[id]; !firing {
		t.Fatal("rule should be firing")
	}

	off := false
	if err := f.rules.Update(id, RuleUpdate{Enabled: &off}); err != nil {
		t.Fatalf("disable rule: %v", err)
	}
	f.tick(t)
	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Fatal("disabling must force the state back to normal")
	}

	// Re-enabling while the condition still holds emits a fresh alert.
	on := true
	if err := f.rules.Update(id, RuleUpdate{Enabled: &on}); err != nil {
		t.Fatalf("enable rule: %v", err)
	}
	f.tick(t)
	if n := f.notifier.count(); n != 2 {
		t.Errorf("got %d alerts, want 2 (one per enable cycle)", n)
	}
}

func TestEngineMetricFailureIsolation(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.rules.Create(testRule("healthy metric")); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	broken := testRule("broken metric")
	broken.Metric = string(MetricStatus4xx)
	brokenID, err := f.rules.Create(broken)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	f.source.set(MetricStatus5xx, 500)
	f.source.errs[MetricStatus4xx] = context.DeadlineExceeded

	f.tick(t)

	// The healthy rule fires; the broken one is skipped, not failed.
	if n := f.notifier.count(); n != 1 {
		t.Fatalf("got %d alerts, want 1 from the healthy rule", n)
	}
	if f.notifier.alerts[0].RuleName != "healthy metric" {
		t.Errorf("alert from %q, want the healthy rule", f.notifier.alerts[0].RuleName)
	}
	if _, firing := f.eng.Status().Firing[brokenID]; firing {
		t.Error("skipped rule must keep its previous state")
	}
}

func TestEngineFailurePreservesFiringState(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.rules.Create(testRule("intermittent")); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	f.source.set(MetricStatus5xx, 500)
	f.tick(t)
	if n := f.notifier.count(); n != 1 {
		t.Fatalf("got %d alerts, want 1", n)
	}

	// Source fails for a tick, then recovers with the condition still true.
	// The state survived the gap, so no duplicate is emitted.
	f.source.errs[MetricStatus5xx] = context.DeadlineExceeded
	f.tick(t)
	delete(f.source.errs, MetricStatus5xx)
	f.tick(t)

	if n := f.notifier.count(); n != 1 {
		t.Errorf("got %d alerts, want 1 (no duplicate across the outage)", n)
	}
}

func TestEngineRestartResume(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("survives restart"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// An unacknowledged alert from 2 minutes ago, inside the 10 minute
	// cooldown: the engine resumes firing instead of re-alerting.
	if err := f.history.Append(testAlert(id, f.now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("append: %v", err)
	}

	f.start(t)

	if state := f.eng.Status().Firing[id]; state != "firing" {
		t.Fatalf("rule state after restart = %q, want firing", state)
	}

	// Condition still holds on the next tick: dedup applies, no new alert.
	f.source.set(MetricStatus5xx, 500)
	f.tick(t)
	if n := f.notifier.count(); n != 0 {
		t.Errorf("resumed firing state must suppress re-emission, got %d alerts", n)
	}
}

func TestEngineRestartCooldownExpired(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("stale alert"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	// The unacknowledged alert is older than the cooldown; start normal.
	if err := f.history.Append(testAlert(id, f.now.Add(-time.Hour))); err != nil {
		t.Fatalf("append: %v", err)
	}

	f.start(t)

	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Error("expired alert must not resume firing state")
	}

	// The persisting condition re-fires as a fresh alert.
	f.source.set(MetricStatus5xx, 500)
	f.tick(t)
	if n := f.notifier.count(); n != 1 {
		t.Errorf("got %d alerts, want 1", n)
	}
}

func TestEngineRestartAcknowledgedNotResumed(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("acked"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	alert := testAlert(id, f.now.Add(-2*time.Minute))
	if err := f.history.Append(alert); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.history.Acknowledge(alert.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	f.start(t)

	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Error("acknowledged alert must not resume firing state")
	}
}

func TestEngineReinitializeRecomputesState(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("recomputed"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	alert := testAlert(id, f.now.Add(-2*time.Minute))
	if err := f.history.Append(alert); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := f.eng.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if state := f.eng.Status().Firing[id]; state != "firing" {
		t.Fatalf("rule state = %q, want firing", state)
	}
	f.eng.Shutdown()

	// Acknowledged while the engine was down: the next Initialize must
	// recompute from history, not carry the stale firing state over.
	if err := f.history.Acknowledge(alert.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := f.eng.Initialize(); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	defer f.eng.Shutdown()

	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Error("stale firing state must not survive reinitialization")
	}
}

func TestEngineEvaluateNowRequiresRunning(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.rules.Create(testRule("too early")); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.source.set(MetricStatus5xx, 500)

	if err := f.eng.EvaluateNow(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("EvaluateNow before Initialize = %v, want ErrNotRunning", err)
	}

	if err := f.eng.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := f.eng.EvaluateNow(context.Background()); err != nil {
		t.Fatalf("EvaluateNow while running: %v", err)
	}
	f.eng.Shutdown()

	if err := f.eng.EvaluateNow(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("EvaluateNow after Shutdown = %v, want ErrNotRunning", err)
	}

	// The stopped engine must not have notified anyone.
	if n := f.notifier.count(); n != 1 {
		t.Errorf("got %d alerts, want only the one from the running pass", n)
	}
}

func TestEngineConcurrentManualTicks(t *testing.T) {
	f := newEngineFixture(t)

	if _, err := f.rules.Create(testRule("contended")); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)
	f.source.set(MetricStatus5xx, 500)

	// Passes serialize, so the firing transition is observed exactly once
	// no matter how many trigger requests race.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.eng.EvaluateNow(context.Background()); err != nil {
				t.Errorf("evaluate: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := f.notifier.count(); n != 1 {
		t.Errorf("got %d alerts from concurrent passes, want 1", n)
	}
}

func TestEngineInitializeIdempotent(t *testing.T) {
	f := newEngineFixture(t)

	if err := f.eng.Initialize(); err != nil {
		t.Fatalf("first initialize: %v", err)
	}
	if err := f.eng.Initialize(); err != nil {
		t.Fatalf("second initialize should be a no-op: %v", err)
	}
	if !f.eng.Status().Running {
		t.Error("engine should report running")
	}

	f.eng.Shutdown()
	f.eng.Shutdown() // second shutdown is also a no-op
	if f.eng.Status().Running {
		t.Error("engine should report stopped")
	}
}

func TestEngineDeletedRuleStateDropped(t *testing.T) {
	f := newEngineFixture(t)

	id, err := f.rules.Create(testRule("doomed"))
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	f.start(t)

	f.source.set(MetricStatus5xx, 500)
	f.tick(t)
	if _, firing := f.eng.Status().Firing[id]; !firing {
		t.Fatal("rule should be firing")
	}

	if err := f.rules.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.tick(t)

	if _, firing := f.eng.Status().Firing[id]; firing {
		t.Error("deleted rule must not linger in the firing set")
	}

	// Emitted history survives the rule's deletion.
	alerts, err := f.history.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 1 {
		t.Errorf("history has %d alerts, want 1", len(alerts))
	}
}
