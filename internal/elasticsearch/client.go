package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cfwatch/internal/config"
	"cfwatch/internal/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// AlertEntry is the document indexed for every emitted alert.
type AlertEntry struct {
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
	Timestamp time.Time `json:"@timestamp"`
}

type Client struct {
	es     *elasticsearch.Client
	config config.ElasticsearchConfig
}

func NewClient(cfg config.ElasticsearchConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	esConfig := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	es, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.String())
	}

	client := &Client{
		es:     es,
		config: cfg,
	}

	logger.Info("Elasticsearch client initialized")

	return client, nil
}

func (c *Client) indexName() string {
	// Daily rolling index, e.g. cfwatch-alerts-2026.08.31.
	return fmt.Sprintf("%s-%s", c.config.IndexPrefix, time.Now().Format("2006.01.02"))
}

// IndexAlert indexes one alert document.
func (c *Client) IndexAlert(entry *AlertEntry) error {
	if c == nil || c.es == nil {
		return nil
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal alert entry: %w", err)
	}

	req := esapi.IndexRequest{
		Index: c.indexName(),
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(context.Background(), c.es)
	if err != nil {
		return fmt.Errorf("failed to index alert: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch indexing error: %s", res.String())
	}

	return nil
}

// SearchQuery filters indexed alerts.
type SearchQuery struct {
	RuleID    string     `json:"rule_id,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Size      int        `json:"size,omitempty"`
	From      int        `json:"from,omitempty"`
}

type SearchResult struct {
	Total int64        `json:"total"`
	Hits  []AlertEntry `json:"hits"`
}

// SearchAlerts queries indexed alerts, newest first.
func (c *Client) SearchAlerts(query *SearchQuery) (*SearchResult, error) {
	if c == nil || c.es == nil {
		return &SearchResult{Total: 0, Hits: []AlertEntry{}}, nil
	}

	mustQueries := []map[string]interface{}{}

	if query.RuleID != "" {
		mustQueries = append(mustQueries, map[string]interface{}{
			"term": map[string]interface{}{"rule_id": query.RuleID},
		})
	}
	if query.Severity != "" {
		mustQueries = append(mustQueries, map[string]interface{}{
			"term": map[string]interface{}{"severity": query.Severity},
		})
	}
	if query.StartTime != nil || query.EndTime != nil {
		rangeQuery := map[string]interface{}{}
		if query.StartTime != nil {
			rangeQuery["gte"] = query.StartTime.Format(time.RFC3339)
		}
		if query.EndTime != nil {
			rangeQuery["lte"] = query.EndTime.Format(time.RFC3339)
		}
		mustQueries = append(mustQueries, map[string]interface{}{
			"range": map[string]interface{}{"@timestamp": rangeQuery},
		})
	}

	if query.Size <= 0 {
		query.Size = 20
	}
	if query.Size > 100 {
		query.Size = 100
	}

	searchBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"must": mustQueries},
		},
		"size": query.Size,
		"from": query.From,
		"sort": []map[string]interface{}{
			{"@timestamp": map[string]interface{}{"order": "desc"}},
		},
	}

	body, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{fmt.Sprintf("%s-*", c.config.IndexPrefix)},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(context.Background(), c.es)
	if err != nil {
		return nil, fmt.Errorf("failed to search alerts: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source AlertEntry `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	result := &SearchResult{
		Total: response.Hits.Total.Value,
		Hits:  make([]AlertEntry, 0, len(response.Hits.Hits)),
	}
	for _, hit := range response.Hits.Hits {
		result.Hits = append(result.Hits, hit.Source)
	}

	return result, nil
}

// CreateIndexTemplate installs the alert index template if missing.
func (c *Client) CreateIndexTemplate() error {
	if c == nil || c.es == nil {
		return nil
	}

	templateName := fmt.Sprintf("%s-template", c.config.IndexPrefix)

	template := map[string]interface{}{
		"index_patterns": []string{fmt.Sprintf("%s-*", c.config.IndexPrefix)},
		"template": map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"refresh_interval":   "5s",
			},
			"mappings": map[string]interface{}{
				"properties": map[string]interface{}{
					"alert_id":   map[string]string{"type": "keyword"},
					"rule_id":    map[string]string{"type": "keyword"},
					"rule_name":  map[string]string{"type": "keyword"},
					"metric":     map[string]string{"type": "keyword"},
					"condition":  map[string]string{"type": "keyword"},
					"zone":       map[string]string{"type": "keyword"},
					"severity":   map[string]string{"type": "keyword"},
					"message":    map[string]string{"type": "text"},
					"observed":   map[string]string{"type": "double"},
					"threshold":  map[string]string{"type": "double"},
					"@timestamp": map[string]string{"type": "date"},
				},
			},
		},
	}

	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal index template: %w", err)
	}

	req := esapi.IndicesPutIndexTemplateRequest{
		Name: templateName,
		Body: bytes.NewReader(body),
	}

	res, err := req.Do(context.Background(), c.es)
	if err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		logger.Warn(fmt.Sprintf("Failed to create index template: %s", res.String()))
	} else {
		logger.Info(fmt.Sprintf("Index template created: %s", templateName))
	}

	return nil
}
