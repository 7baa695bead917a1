package engine

// RuleState is the transient firing state of one rule.
type RuleState int

const (
	StateNormal RuleState = iota
	StateFiring
)

func (s RuleState) String() string {
	if s == StateFiring {
		return "firing"
	}
	return "normal"
}

// stateTracker holds per-rule Normal/Firing state. It is not safe for
// concurrent use; the engine serializes access through its own mutex.
// State is transient and reconstructed from history at startup, so there is
// no second persisted source of truth to drift.
type stateTracker struct {
	states map[string]RuleState
}

func newStateTracker() *stateTracker {
	return &stateTracker{states: make(map[string]RuleState)}
}

func (t *stateTracker) get(ruleID string) RuleState {
	return t.states[ruleID]
}

func (t *stateTracker) set(ruleID string, s RuleState) {
	if s == StateNormal {
		delete(t.states, ruleID)
		return
	}
	t.states[ruleID] = s
}

// transition applies one evaluation outcome and reports whether an alert
// must be emitted. Only Normal -> Firing emits; Firing -> Firing is the
// dedup no-op, and clearing is silent.
func (t *stateTracker) transition(ruleID string, fired bool) bool {
	current := t.get(ruleID)
	switch {
	case fired && current == StateNormal:
		t.set(ruleID, StateFiring)
		return true
	case !fired && current == StateFiring:
		t.set(ruleID, StateNormal)
	}
	return false
}

// prune drops state for rules that no longer exist.
func (t *stateTracker) prune(valid map[string]bool) {
	for id := range t.states {
		if !valid[id] {
			delete(t.states, id)
		}
	}
}

// snapshot copies the current firing set for status reporting.
func (t *stateTracker) snapshot() map[string]string {
	out := make(map[string]string, len(t.states))
	for id, s := range t.states {
		out[id] = s.String()
	}
	return out
}
