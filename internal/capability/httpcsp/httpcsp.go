// Package httpcsp is a concrete CSP capability backed by outbound HTTP
// calls to the cloud service provider's metering API. The client uses a
// TLS 1.2 floor, connection pooling, and explicit dial and
// response-header timeouts; requests run through pkg/retry so each call
// stays bounded well under the query interval.
package httpcsp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/capability"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/config"
	"github.com/SUSE-Enceladus/csp-billing-adapter/internal/storage"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/apperror"
	"github.com/SUSE-Enceladus/csp-billing-adapter/pkg/retry"
)

// Client implements capability.CSP over HTTP.
type Client struct {
	http     *http.Client
	cfg      config.CSPConfig
	retryCfg retry.Config
	logger   *slog.Logger

	productCode string

	mu              sync.RWMutex
	customerCSPData map[string]interface{}
}

// New builds a Client with a connection-pooled, TLS 1.2+ http.Client.
// productCode is attached to every meter request; customer_csp_data is
// populated lazily from GetCSPConfigMetadata and cached for reuse.
func New(cfg config.CSPConfig, productCode string, retryCfg retry.Config, logger *slog.Logger) *Client {
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
		cfg:         cfg,
		productCode: productCode,
		retryCfg:    retryCfg,
		logger:      logger,
	}
}

type meterRequest struct {
	Dimensions      []storage.DimensionUnits `json:"dimensions"`
	ProductCode     string                   `json:"product_code"`
	CustomerCSPData map[string]interface{}   `json:"customer_csp_data,omitempty"`
	Timestamp       time.Time                `json:"timestamp"`
	DryRun          bool                     `json:"dry_run"`
}

// structuredMeterResponse is the modern JSON shape the metering API may
// return. Some deployments still answer with a bare status string
// ("ok" / "failed"); MeterBilling normalizes both.
type structuredMeterResponse struct {
	Status   string `json:"status"`
	RecordID string `json:"record_id"`
	Detail   string `json:"detail"`
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// MeterBilling submits dimensions for the given timestamp.
func (c *Client) MeterBilling(ctx context.Context, dimensions []storage.DimensionUnits, timestamp time.Time, dryRun bool) (capability.MeterResult, error) {
	c.mu.RLock()
	customerData := c.customerCSPData
	c.mu.RUnlock()

	body, err := json.Marshal(meterRequest{
		Dimensions:      dimensions,
		ProductCode:     c.productCode,
		CustomerCSPData: customerData,
		Timestamp:       timestamp,
		DryRun:          dryRun,
	})
	if err != nil {
		return capability.MeterResult{}, apperror.NewMeteringError("marshaling meter request", err)
	}

	var result capability.MeterResult
	err = retry.Do(ctx, c.retryCfg, func(err error) bool {
		var herr *httpStatusError
		if errors.As(err, &herr) {
			return isRetryableStatus(herr.StatusCode)
		}
		return true
	}, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MeteringURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building meter request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "csp-billing-adapter/1.0")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("posting meter request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading meter response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return &httpStatusError{StatusCode: resp.StatusCode, Body: string(data)}
		}

		result, err = parseMeterResponse(data)
		return err
	})
	if err != nil {
		return capability.MeterResult{}, apperror.NewMeteringError("metering call exhausted retries", err)
	}

	return result, nil
}

// parseMeterResponse accepts either a legacy bare JSON string
// ("ok"/"failed") or the structured object form.
func parseMeterResponse(data []byte) (capability.MeterResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var legacy string
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return capability.MeterResult{}, fmt.Errorf("decoding legacy meter response: %w", err)
		}
		status := capability.MeterFailed
		if strings.EqualFold(legacy, "ok") || strings.EqualFold(legacy, "success") {
			status = capability.MeterOK
		}
		return capability.MeterResult{Status: status}, nil
	}

	var structured structuredMeterResponse
	if err := json.Unmarshal(trimmed, &structured); err != nil {
		return capability.MeterResult{}, fmt.Errorf("decoding meter response: %w", err)
	}
	status := capability.MeterFailed
	if strings.EqualFold(structured.Status, "ok") || strings.EqualFold(structured.Status, "success") {
		status = capability.MeterOK
	}
	return capability.MeterResult{Status: status, RecordID: structured.RecordID, Detail: structured.Detail}, nil
}

// GetAccountInfo fetches CSP account/identity information for operator
// diagnostics; the adapter does not interpret the returned shape.
func (c *Client) GetAccountInfo(ctx context.Context) (map[string]interface{}, error) {
	return c.getJSON(ctx, c.cfg.AccountInfoURL)
}

// GetCSPConfigMetadata fetches the opaque per-customer metadata blob
// stored verbatim in csp-config.customer_csp_data, caching it so
// subsequent MeterBilling calls attach the same payload.
func (c *Client) GetCSPConfigMetadata(ctx context.Context) (map[string]interface{}, error) {
	url := c.cfg.MetadataURL
	if url == "" {
		url = c.cfg.AccountInfoURL
	}
	data, err := c.getJSON(ctx, url)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.customerCSPData = data
	c.mu.Unlock()
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, url string) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := retry.Do(ctx, c.retryCfg, nil, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", url, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}
		if resp.StatusCode >= 400 {
			return &httpStatusError{StatusCode: resp.StatusCode, Body: string(data)}
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, apperror.NewBootCSPError(fmt.Sprintf("fetching %s", url), err)
	}
	return out, nil
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("csp returned http %d: %s", e.StatusCode, e.Body)
}
