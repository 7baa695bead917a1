package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"cfwatch/internal/logger"
	"cfwatch/internal/models"

	"go.uber.org/zap"
)

// Notifier delivers a formatted alert to one channel.
type Notifier interface {
	Send(title, message string) error
}

// WebhookNotifier POSTs alerts as JSON to a configured URL.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	client  *http.Client
}

func NewWebhookNotifier(url string, headers map[string]string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     url,
		Headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebhookNotifier) Send(title, message string) error {
	payload := map[string]string{
		"title":   title,
		"message": message,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}

	return nil
}

// FormatAlert renders the notification title and body for an alert.
func FormatAlert(a *models.Alert) (title, message string) {
	title = fmt.Sprintf("[%s] %s", a.Severity, a.RuleName)
	message = fmt.Sprintf("%s\n\nmetric: %s\nobserved: %.0f\ntriggered: %s",
		a.Message, a.Metric, a.Observed, a.TriggeredAt.Format("2006-01-02 15:04:05"))
	if a.Zone != "" {
		message += "\nzone: " + a.Zone
	}
	return title, message
}

// Dispatcher fans emitted alerts out to delivery channels. It implements
// engine.Notifier; sends run in the background so a slow channel never
// delays a tick.
type Dispatcher struct {
	notifiers []Notifier
}

func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers}
}

func (d *Dispatcher) Notify(a *models.Alert) {
	title, message := FormatAlert(a)
	for _, n := range d.notifiers {
		go func(n Notifier) {
			if err := n.Send(title, message); err != nil {
				logger.Error("Failed to send alert notification",
					zap.String("alert_id", a.ID),
					zap.Error(err),
				)
			}
		}(n)
	}
}

// FileLog mirrors emitted alerts into the jsonl audit log. It implements
// engine.Notifier.
type FileLog struct {
	dir string
}

func NewFileLog(dir string) *FileLog {
	return &FileLog{dir: dir}
}

func (f *FileLog) Notify(a *models.Alert) {
	entry := &logger.AlertLogEntry{
		Timestamp: a.TriggeredAt,
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
	}
	if err := logger.WriteAlertLog(f.dir, entry); err != nil {
		logger.Warn("Failed to write alert log",
			zap.String("alert_id", a.ID),
			zap.Error(err),
		)
	}
}
