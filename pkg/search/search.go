// Package search queries Google Custom Search for sector background used in
// company context prompts.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"resty.dev/v3"

	"github.com/ledgerlens/ledgerlens/pkg/logging"
)

const (
	defaultBaseURL = "https://www.googleapis.com"
	defaultResults = 5
)

// ErrNotConfigured is returned when the API key or engine id is missing.
var ErrNotConfigured = errors.New("search not configured")

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// Config holds the Custom Search credentials.
type Config struct {
	BaseURL  string
	APIKey   string
	EngineID string
	Timeout  time.Duration
}

// Client calls the Custom Search JSON API.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger logrus.FieldLogger
}

// NewClient returns a Client. Call Close when done.
func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logging.Component(logger, "search"),
	}
}

type searchResponse struct {
	Items []Result `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search returns up to five results for query.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if c.cfg.APIKey == "" || c.cfg.EngineID == "" {
		return nil, ErrNotConfigured
	}

	var out searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key": c.cfg.APIKey,
			"cx":  c.cfg.EngineID,
			"q":   query,
			"num": strconv.Itoa(defaultResults),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/customsearch/v1")
	if err != nil {
		return nil, c.redact(fmt.Errorf("search request: %w", err))
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("search request: http %d: %s", resp.StatusCode(), msg)
	}

	c.logger.WithFields(logrus.Fields{
		"results": len(out.Items),
	}).Debug("search completed")
	if out.Items == nil {
		return []Result{}, nil
	}
	return out.Items, nil
}

// SectorQuery builds the query used to research a sector in a region.
func SectorQuery(sector, region string) string {
	return fmt.Sprintf("Información relevante para realizar proyecciones financieras para el %s en %s durante los próximos meses", sector, region)
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// redact strips the API key from transport errors, whose URL carries it in
// the query string.
func (c *Client) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			q := u.Query()
			if q.Has("key") {
				q.Set("key", "REDACTED")
				u.RawQuery = q.Encode()
				uerr.URL = u.String()
			}
		}
	}
	if msg := err.Error(); strings.Contains(msg, c.cfg.APIKey) {
		return errors.New(strings.ReplaceAll(msg, c.cfg.APIKey, "REDACTED"))
	}
	return err
}
