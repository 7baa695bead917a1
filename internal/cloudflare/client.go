package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"cfwatch/internal/config"
	"cfwatch/internal/engine"
	"cfwatch/internal/logger"

	"go.uber.org/zap"
)

// Shared HTTP client with connection pooling. All metric queries go to the
// same API host, so one pooled transport is enough.
var (
	sharedHTTPClient *http.Client
	httpClientOnce   sync.Once
)

func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 30 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		}
		// No client-level timeout; every query carries a context deadline.
		sharedHTTPClient = &http.Client{Transport: transport}
	})
	return sharedHTTPClient
}

// statusCountQuery sums edge response counts in a status class over a time
// range for one zone.
const statusCountQuery = `query ($zoneTag: String!, $since: Time!, $until: Time!, $statusGeq: Int!, $statusLt: Int!) {
  viewer {
    zones(filter: {zoneTag: $zoneTag}) {
      httpRequestsAdaptiveGroups(
        limit: 100,
        filter: {datetime_geq: $since, datetime_lt: $until, edgeResponseStatus_geq: $statusGeq, edgeResponseStatus_lt: $statusLt}
      ) {
        count
      }
    }
  }
}`

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		Viewer struct {
			Zones []struct {
				Groups []struct {
					Count float64 `json:"count"`
				} `json:"httpRequestsAdaptiveGroups"`
			} `json:"zones"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client queries the Cloudflare GraphQL analytics API for status-class
// response counts. It implements engine.MetricSource.
type Client struct {
	cfg config.CloudflareConfig
}

func NewClient(cfg config.CloudflareConfig) *Client {
	return &Client{cfg: cfg}
}

// Query returns the number of edge responses in the metric's status class
// over the lookback window, for the given zone tag (falling back to the
// configured default zone when empty).
func (c *Client) Query(ctx context.Context, metric engine.Metric, zone string, window time.Duration) (float64, error) {
	if zone == "" {
		zone = c.cfg.ZoneTag
	}

	lo, hi := metric.StatusBounds()
	if lo == 0 {
		return 0, fmt.Errorf("metric %s has no status bounds", metric)
	}

	until := time.Now().UTC()
	since := until.Add(-window)

	body, err := json.Marshal(graphqlRequest{
		Query: statusCountQuery,
		Variables: map[string]interface{}{
			"zoneTag":   zone,
			"since":     since.Format(time.RFC3339),
			"until":     until.Format(time.RFC3339),
			"statusGeq": lo,
			"statusLt":  hi,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	resp, err := getHTTPClient().Do(req)
	if err != nil {
		return 0, fmt.Errorf("analytics query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("analytics API returned status %d", resp.StatusCode)
	}

	var gqlResp graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return 0, fmt.Errorf("failed to decode analytics response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return 0, fmt.Errorf("analytics API error: %s", gqlResp.Errors[0].Message)
	}
	if len(gqlResp.Data.Viewer.Zones) == 0 {
		return 0, fmt.Errorf("zone %s not found", zone)
	}

	var total float64
	for _, group := range gqlResp.Data.Viewer.Zones[0].Groups {
		total += group.Count
	}

	logger.Debug("Analytics query completed",
		zap.String("metric", string(metric)),
		zap.String("zone", zone),
		zap.Float64("count", total),
	)

	return total, nil
}
