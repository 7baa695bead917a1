package engine

import "fmt"

// Metric is a closed enum of the traffic measurements the engine can sample.
// Each one counts edge responses in a status class.
type Metric string

const (
	MetricStatus2xx Metric = "status2xx"
	MetricStatus3xx Metric = "status3xx"
	MetricStatus4xx Metric = "status4xx"
	MetricStatus5xx Metric = "status5xx"
)

// Metrics lists every supported metric.
func Metrics() []Metric {
	return []Metric{MetricStatus2xx, MetricStatus3xx, MetricStatus4xx, MetricStatus5xx}
}

// ParseMetric validates a metric name from user input or storage.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricStatus2xx, MetricStatus3xx, MetricStatus4xx, MetricStatus5xx:
		return Metric(s), nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidRule, s)
}

// StatusBounds returns the half-open HTTP status range [lo, hi) the metric counts.
func (m Metric) StatusBounds() (int, int) {
	switch m {
	case MetricStatus2xx:
		return 200, 300
	case MetricStatus3xx:
		return 300, 400
	case MetricStatus4xx:
		return 400, 500
	case MetricStatus5xx:
		return 500, 600
	}
	return 0, 0
}

// Label returns the human form used in alert messages.
func (m Metric) Label() string {
	switch m {
	case MetricStatus2xx:
		return "2xx responses"
	case MetricStatus3xx:
		return "3xx responses"
	case MetricStatus4xx:
		return "4xx responses"
	case MetricStatus5xx:
		return "5xx responses"
	}
	return string(m)
}

// Condition is the trigger type of a rule.
type Condition string

const (
	ConditionIncrease  Condition = "increase"
	ConditionDecrease  Condition = "decrease"
	ConditionThreshold Condition = "threshold"
)

// ParseCondition validates a condition name from user input or storage.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case ConditionIncrease, ConditionDecrease, ConditionThreshold:
		return Condition(s), nil
	}
	return "", fmt.Errorf("%w: unknown condition %q", ErrInvalidRule, s)
}

// NeedsWindow reports whether the condition compares against a historical baseline.
func (c Condition) NeedsWindow() bool {
	return c == ConditionIncrease || c == ConditionDecrease
}

// Severity classifies how far an observed value overshot its rule's value.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)
