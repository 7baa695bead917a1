package engine

import "testing"

func TestStateTrackerTransitions(t *testing.T) {
	tr := newStateTracker()

	// Normal -> Firing emits.
	if !tr.transition("r1", true) {
		t.Error("normal -> firing should emit")
	}
	if tr.get("r1") != StateFiring {
		t.Error("state should be firing")
	}

	// Firing -> Firing is the dedup no-op.
	if tr.transition("r1", true) {
		t.Error("firing -> firing must not emit")
	}

	// Firing -> Normal clears silently.
	if tr.transition("r1", false) {
		t.Error("clearing must not emit")
	}
	if tr.get("r1") != StateNormal {
		t.Error("state should be normal after clear")
	}

	// Re-firing after a clear is a fresh transition.
	if !tr.transition("r1", true) {
		t.Error("re-fire after clear should emit")
	}

	// Normal -> Normal does nothing.
	if tr.transition("r2", false) {
		t.Error("normal -> normal must not emit")
	}
}

func TestStateTrackerPrune(t *testing.T) {
	tr := newStateTracker()
	tr.set("keep", StateFiring)
	tr.set("drop", StateFiring)

	tr.prune(map[string]bool{"keep": true})

	if tr.get("keep") != StateFiring {
		t.Error("valid rule state should survive prune")
	}
	if tr.get("drop") != StateNormal {
		t.Error("deleted rule state should be discarded")
	}
}

func TestStateTrackerSnapshot(t *testing.T) {
	tr := newStateTracker()
	tr.set("r1", StateFiring)

	snap := tr.snapshot()
	if snap["r1"] != "firing" {
		t.Errorf("snapshot = %v, want firing for r1", snap)
	}

	// Snapshot is a copy.
	snap["r2"] = "firing"
	if tr.get("r2") != StateNormal {
		t.Error("mutating the snapshot must not affect the tracker")
	}
}
