package engine

import "cfwatch/internal/models"

// Severity bucket cutoffs: overshoot ratio below severityMediumRatio is low,
// up to severityHighRatio is medium, anything beyond is high.
const (
	severityMediumRatio = 1.5
	severityHighRatio   = 3.0
)

// Decision is the outcome of evaluating one rule against one sample.
type Decision struct {
	Fired bool
	// Change is the percent change against the baseline; only meaningful for
	// increase/decrease conditions.
	Change float64
}

// PercentChange computes the percent change from baseline to current. A zero
// baseline is defined as +100% when the current value is positive and 0%
// otherwise, so the result is never NaN or Inf.
func PercentChange(current, baseline float64) float64 {
	if baseline == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - baseline) / baseline * 100
}

// Evaluate decides whether a rule's condition holds for the current value.
// baseline is nil when no historical sample was available within tolerance;
// windowed conditions then report not-fired rather than guessing.
func Evaluate(rule *models.AlertRule, current float64, baseline *float64) Decision {
	switch Condition(rule.Condition) {
	case ConditionThreshold:
		return Decision{Fired: current >= rule.Value}
	case ConditionIncrease:
		if baseline == nil {
			return Decision{}
		}
		change := PercentChange(current, *baseline)
		return Decision{Fired: change >= rule.Value, Change: change}
	case ConditionDecrease:
		if baseline == nil {
			return Decision{}
		}
		change := PercentChange(current, *baseline)
		return Decision{Fired: change <= -rule.Value, Change: change}
	}
	return Decision{}
}

// Classify buckets how far the observation overshot the rule's configured
// value. For threshold rules the ratio is current/value; for windowed rules
// it is |percent change|/value. A zero-valued rule fires on any signal, so
// any overshoot there counts as high.
func Classify(rule *models.AlertRule, current float64, change float64) Severity {
	if rule.Value == 0 {
		return SeverityHigh
	}

	var ratio float64
	if Condition(rule.Condition) == ConditionThreshold {
		ratio = current / rule.Value
	} else {
		if change < 0 {
			change = -change
		}
		ratio = change / rule.Value
	}

	switch {
	case ratio > severityHighRatio:
		return SeverityHigh
	case ratio >= severityMediumRatio:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
