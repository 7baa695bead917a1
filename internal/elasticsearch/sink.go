package elasticsearch

import (
	"sync"

	"cfwatch/internal/logger"
	"cfwatch/internal/models"

	"go.uber.org/zap"
)

// Sink mirrors emitted alerts into Elasticsearch through a buffered channel
// and a background writer, so indexing latency never delays a tick. When the
// buffer is full the alert is dropped from the mirror; the database row is
// the durable copy.
type Sink struct {
	client *Client
	buffer chan *AlertEntry
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewSink(client *Client) *Sink {
	s := &Sink{
		client: client,
		buffer: make(chan *AlertEntry, 500),
		done:   make(chan struct{}),
	}
	go s.writer()
	return s
}

// Notify implements engine.Notifier. Alerts arriving after Close are dropped;
// the database row is the durable copy.
func (s *Sink) Notify(a *models.Alert) {
	entry := &AlertEntry{
		AlertID:   a.ID,
		RuleID:    a.RuleID,
		RuleName:  a.RuleName,
		Metric:    a.Metric,
		Condition: a.Condition,
		Zone:      a.Zone,
		Severity:  a.Severity,
		Message:   a.Message,
		Observed:  a.Observed,
		Threshold: a.Threshold,
		Timestamp: a.TriggeredAt.UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.buffer <- entry:
	default:
		logger.Warn("ES buffer full, dropping alert mirror",
			zap.String("alert_id", a.ID))
	}
	s.mu.Unlock()
}

// Close stops the background writer after draining buffered entries.
// Repeated calls are no-ops.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.buffer)
	s.mu.Unlock()

	<-s.done
}

func (s *Sink) writer() {
	defer close(s.done)
	for entry := range s.buffer {
		if err := s.client.IndexAlert(entry); err != nil {
			logger.Error("Failed to index alert to ES",
				zap.String("alert_id", entry.AlertID),
				zap.Error(err),
			)
		}
	}
}
