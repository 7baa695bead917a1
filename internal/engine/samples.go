package engine

import (
	"sync"
	"time"
)

// Sample is an immutable metric observation.
type Sample struct {
	Value     float64
	SampledAt time.Time
}

type sampleKey struct {
	Metric Metric
	Zone   string
}

// SampleHistory keeps recent samples per (metric, zone) so increase/decrease
// rules can look up "the value at now - window" without re-querying the
// metric source. It is memory only; losing it just causes a cold-start gap
// until fresh samples accumulate.
type SampleHistory struct {
	mu        sync.RWMutex
	samples   map[sampleKey][]Sample
	retention time.Duration
}

// NewSampleHistory creates a history retaining samples for at most retention.
func NewSampleHistory(retention time.Duration) *SampleHistory {
	return &SampleHistory{
		samples:   make(map[sampleKey][]Sample),
		retention: retention,
	}
}

// SetRetention adjusts the retention horizon. The scheduler calls this each
// tick with the widest enabled window plus one tick of slack.
func (h *SampleHistory) SetRetention(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d > 0 {
		h.retention = d
	}
}

// Record appends an observation and evicts anything older than the retention
// horizon. Samples arrive in tick order, so the slice stays time-sorted.
func (h *SampleHistory) Record(metric Metric, zone string, value float64, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := sampleKey{Metric: metric, Zone: zone}
	list := append(h.samples[key], Sample{Value: value, SampledAt: at})

	cutoff := at.Add(-h.retention)
	idx := 0
	for idx < len(list)-1 && list[idx].SampledAt.Before(cutoff) {
		idx++
	}
	h.samples[key] = list[idx:]
}

// ValueAt returns the sample nearest to at within tolerance. It never
// extrapolates: if no sample falls inside the tolerance the lookup reports
// no baseline and the caller skips the rule for this tick.
func (h *SampleHistory) ValueAt(metric Metric, zone string, at time.Time, tolerance time.Duration) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.samples[sampleKey{Metric: metric, Zone: zone}]
	if len(list) == 0 {
		return 0, false
	}

	best := -1
	var bestDist time.Duration
	for i, s := range list {
		dist := s.SampledAt.Sub(at)
		if dist < 0 {
			dist = -dist
		}
		if dist > tolerance {
			continue
		}
		if best == -1 || dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	if best == -1 {
		return 0, false
	}
	return list[best].Value, true
}

// Len reports how many samples are retained for a key. Used by tests and the
// status endpoint.
func (h *SampleHistory) Len(metric Metric, zone string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples[sampleKey{Metric: metric, Zone: zone}])
}
