package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var alertLogMutex sync.Mutex

// AlertLogEntry is one emitted alert in the date-partitioned jsonl log.
// The file log is independent of the database: it survives clearHistory and
// serves as a cheap audit trail.
type AlertLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	AlertID   string    `json:"alert_id"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Metric    string    `json:"metric"`
	Condition string    `json:"condition"`
	Zone      string    `json:"zone,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Observed  float64   `json:"observed"`
	Threshold float64   `json:"threshold"`
}

// InitAlertLog creates the log directory.
func InitAlertLog(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// WriteAlertLog appends an alert to the current day's log file,
// e.g. logs/alerts-2026-08-31.jsonl.
func WriteAlertLog(logDir string, entry *AlertLogEntry) error {
	alertLogMutex.Lock()
	defer alertLogMutex.Unlock()

	date := time.Now().Format("2006-01-02")
	logFilePath := filepath.Join(logDir, fmt.Sprintf("alerts-%s.jsonl", date))

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	return nil
}

// AlertLogQuery filters the file log.
type AlertLogQuery struct {
	RuleID    string     `json:"rule_id,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// AlertLogResult is a page of matched entries, newest first.
type AlertLogResult struct {
	Total   int              `json:"total"`
	Entries []*AlertLogEntry `json:"entries"`
}

// QueryAlertLogs scans the daily log files in the query's time range and
// returns matching entries newest first.
func QueryAlertLogs(logDir string, req *AlertLogQuery) (*AlertLogResult, error) {
	result := &AlertLogResult{Entries: make([]*AlertLogEntry, 0)}

	var startDate, endDate time.Time
	if req.StartTime != nil {
		startDate = *req.StartTime
	} else {
		startDate = time.Now().AddDate(0, 0, -7)
	}
	if req.EndTime != nil {
		endDate = *req.EndTime
	} else {
		endDate = time.Now()
	}

	matched := make([]*AlertLogEntry, 0)
	for d := startDate; d.Before(endDate.AddDate(0, 0, 1)); d = d.AddDate(0, 0, 1) {
		logFilePath := filepath.Join(logDir, fmt.Sprintf("alerts-%s.jsonl", d.Format("2006-01-02")))
		if _, err := os.Stat(logFilePath); os.IsNotExist(err) {
			continue
		}

		entries, err := readAlertLogFile(logFilePath)
		if err != nil {
			continue
		}

		for _, entry := range entries {
			if !matchesAlertQuery(entry, req) {
				continue
			}
			matched = append(matched, entry)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	result.Total = len(matched)
	if req.Limit <= 0 {
		req.Limit = 100
	}

	start := req.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + req.Limit
	if end > len(matched) {
		end = len(matched)
	}
	if start < end {
		result.Entries = matched[start:end]
	}

	return result, nil
}

func readAlertLogFile(logFilePath string) ([]*AlertLogEntry, error) {
	file, err := os.Open(logFilePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make([]*AlertLogEntry, 0)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var entry AlertLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		entries = append(entries, &entry)
	}

	return entries, scanner.Err()
}

func matchesAlertQuery(entry *AlertLogEntry, req *AlertLogQuery) bool {
	if req.RuleID != "" && entry.RuleID != req.RuleID {
		return false
	}
	if req.Severity != "" && entry.Severity != req.Severity {
		return false
	}
	if req.StartTime != nil && entry.Timestamp.Before(*req.StartTime) {
		return false
	}
	if req.EndTime != nil && entry.Timestamp.After(*req.EndTime) {
		return false
	}
	return true
}
