// Package httpusage is a concrete Usage capability backed by a GET
// against the tenant application's usage endpoint. Transport
// construction mirrors httpcsp.
package httpusage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
)

// Client implements capability.Usage over HTTP.
type Client struct {
	http     *http.Client
	cfg      config.UsageConfig
	retryCfg retry.Config
}

// New builds a Client against the configured usage endpoint.
func New(cfg config.UsageConfig, retryCfg retry.Config) *Client {
	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		cfg:      cfg,
		retryCfg: retryCfg,
	}
}

// GetUsageData fetches the current usage dict. now is passed through as
// a query parameter so a mock/test server can serve deterministic
// fixtures keyed by time; production endpoints are free to ignore it.
func (c *Client) GetUsageData(ctx context.Context, now time.Time) (map[string]interface{}, error) {
	var out map[string]interface{}

	err := retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.EndpointURL, nil)
		if err != nil {
			return fmt.Errorf("building usage request: %w", err)
		}
		q := req.URL.Query()
		q.Set("as_of", now.UTC().Format(time.RFC3339))
		req.URL.RawQuery = q.Encode()

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("fetching usage data: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading usage response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("usage endpoint returned http %d: %s", resp.StatusCode, string(data))
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, apperror.NewUsageCollectionError("fetching usage data", err)
	}

	return out, nil
}
