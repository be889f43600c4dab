// Package feeds talks to the Socrata open-data API and normalizes its
// records into the bridge's incident model.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/models"
	"github.com/atxtak/cotbridge/internal/utils"
)

// RawIncident is one record as published by the SODA datasets. Both the
// fire and traffic datasets share the traffic_report schema; numeric
// fields arrive as strings.
type RawIncident struct {
	TrafficReportID string `json:"traffic_report_id"`
	PublishedDate   string `json:"published_date"`
	IssueReported   string `json:"issue_reported"`
	Latitude        string `json:"latitude"`
	Longitude       string `json:"longitude"`
	Address         string `json:"address"`
	Status          string `json:"traffic_report_status"`
}

// Client fetches raw incident records from the SODA API.
type Client struct {
	baseURL    string
	appToken   string
	datasets   map[models.SourceKind]string
	pageLimit  int
	httpClient *http.Client
}

// NewClient constructs a client for the configured SODA instance.
func NewClient(cfg config.SODAConfig) *Client {
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = 100
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		appToken: cfg.AppToken,
		datasets: map[models.SourceKind]string{
			models.SourceFire:    cfg.FireDataset,
			models.SourceTraffic: cfg.TrafficDataset,
		},
		pageLimit:  limit,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch returns records published at or after since, plus the new
// watermark (the latest published_date observed, or since when the window
// was empty). Transient failures leave the watermark unchanged upstream.
func (c *Client) Fetch(ctx context.Context, kind models.SourceKind, since time.Time) ([]RawIncident, time.Time, error) {
	dataset, ok := c.datasets[kind]
	if !ok || dataset == "" {
		return nil, since, utils.E("feeds.Fetch", utils.KindPermanentFetch,
			fmt.Sprintf("no dataset configured for source %s", kind), nil)
	}

	endpoint := fmt.Sprintf("%s/%s.json", c.baseURL, dataset)
	query := url.Values{}
	query.Set("$where", fmt.Sprintf("published_date >= '%s'", utils.FormatSODATime(since)))
	query.Set("$order", "published_date DESC")
	query.Set("$limit", fmt.Sprintf("%d", c.pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, since, utils.E("feeds.Fetch", utils.KindPermanentFetch, "build request", err)
	}
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, since, utils.E("feeds.Fetch", utils.KindTransientFetch, "soda request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, since, utils.E("feeds.Fetch", utils.KindTransientFetch,
			fmt.Sprintf("soda returned %s", resp.Status), nil)
	default:
		return nil, since, utils.E("feeds.Fetch", utils.KindPermanentFetch,
			fmt.Sprintf("soda returned %s", resp.Status), nil)
	}

	var records []RawIncident
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, since, utils.E("feeds.Fetch", utils.KindPermanentFetch, "decode soda response", err)
	}

	watermark := since
	for _, rec := range records {
		if ts, err := utils.ParseSODATime(rec.PublishedDate); err == nil && ts.After(watermark) {
			watermark = ts
		}
	}
	return records, watermark, nil
}

// PermalinkFor returns the canonical source URL for one record.
func (c *Client) PermalinkFor(kind models.SourceKind, sourceID string) string {
	dataset := c.datasets[kind]
	return fmt.Sprintf("%s/%s.json?traffic_report_id=%s", c.baseURL, dataset, url.QueryEscape(sourceID))
}
