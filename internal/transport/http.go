// Package transport talks to the graph API endpoints the reporter depends on:
// configuration fetch, conversion submission, catalog check and server-side
// rule matching.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/types"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Config configures HTTPTransport.
type Config struct {
	// GraphURL is the API root, e.g. https://graph.facebook.com/v17.0.
	GraphURL string
	// AppID scopes the configuration and conversion endpoints.
	AppID string
	// ClientToken is sent as access_token "<app id>|<client token>" when set.
	ClientToken string
	// Timeout bounds every request.
	Timeout time.Duration
}

// RuleMatchRequest asks the server which businesses' advertiser rules match an event.
type RuleMatchRequest struct {
	BusinessIDs []string
	EventName   string
	Currency    string
	Value       *float64
	Params      types.Params
}

// HTTPTransport is the graph API client.
type HTTPTransport struct {
	baseURL     string
	appID       string
	accessToken string
	client      *http.Client
	log         *slog.Logger
}

// New creates an HTTPTransport. A nil logger uses slog.Default().
func New(cfg Config, log *slog.Logger) *HTTPTransport {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t := &HTTPTransport{
		baseURL: strings.TrimRight(cfg.GraphURL, "/"),
		appID:   cfg.AppID,
		client:  &http.Client{Timeout: timeout},
		log:     log.With(slog.String("component", "transport")),
	}
	if cfg.ClientToken != "" {
		t.accessToken = cfg.AppID + "|" + cfg.ClientToken
	}
	return t
}

// dataEnvelope is the graph API list response.
type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

// FetchConfigurations returns the raw configuration items for the app and
// the given businesses. Items are not validated here.
func (t *HTTPTransport) FetchConfigurations(ctx context.Context, businessIDs []string) ([]types.RawConfiguration, error) {
	q := url.Values{}
	if len(businessIDs) > 0 {
		ids, err := json.Marshal(businessIDs)
		if err != nil {
			return nil, err
		}
		q.Set("advertiser_ids", string(ids))
	}

	var resp dataEnvelope[types.RawConfiguration]
	if err := t.do(ctx, http.MethodGet, t.appPath("aem_conversion_configs"), q, &resp); err != nil {
		return nil, fmt.Errorf("fetch configurations: %w", err)
	}
	t.log.Debug("configurations fetched", slog.Int("count", len(resp.Data)))
	return resp.Data, nil
}

// SendConversions submits one aggregation batch.
func (t *HTTPTransport) SendConversions(ctx context.Context, reports []aem.ReportRequest) error {
	body, err := json.Marshal(reports)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("aem_conversions", string(body))
	if err := t.do(ctx, http.MethodPost, t.appPath("aem_conversions"), form, nil); err != nil {
		return fmt.Errorf("send conversions: %w", err)
	}
	t.log.Debug("conversions sent", slog.Int("count", len(reports)))
	return nil
}

// CheckCatalog reports whether contentID belongs to catalogID.
func (t *HTTPTransport) CheckCatalog(ctx context.Context, catalogID, contentID string) (bool, error) {
	q := url.Values{}
	q.Set("content_id", contentID)

	var resp dataEnvelope[struct {
		BelongsToCatalog bool `json:"content_id_belongs_to_catalog_id"`
	}]
	if err := t.do(ctx, http.MethodGet, t.baseURL+"/"+url.PathEscape(catalogID)+"/aem_conversion_filter", q, &resp); err != nil {
		return false, fmt.Errorf("check catalog: %w", err)
	}
	return len(resp.Data) > 0 && resp.Data[0].BelongsToCatalog, nil
}

// MatchRules returns the business ids whose advertiser rules match the event.
func (t *HTTPTransport) MatchRules(ctx context.Context, req RuleMatchRequest) ([]string, error) {
	ids, err := json.Marshal(req.BusinessIDs)
	if err != nil {
		return nil, err
	}
	params := req.Params.Clone()
	if req.Currency != "" {
		params[aem.ParamCurrency] = req.Currency
	}
	if req.Value != nil {
		params["_valueToSum"] = *req.Value
	}
	eventParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("advertiser_ids", string(ids))
	form.Set("event", req.EventName)
	form.Set("event_params", string(eventParams))

	var resp dataEnvelope[struct {
		MatchedAdvertiserIDs []string `json:"matched_advertiser_ids"`
	}]
	if err := t.do(ctx, http.MethodPost, t.appPath("aem_attribution"), form, &resp); err != nil {
		return nil, fmt.Errorf("match rules: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return resp.Data[0].MatchedAdvertiserIDs, nil
}

func (t *HTTPTransport) appPath(edge string) string {
	return t.baseURL + "/" + url.PathEscape(t.appID) + "/" + edge
}

// do sends a GET with params in the query, or a POST with params as a form,
// and decodes a JSON response into out when out is non-nil.
func (t *HTTPTransport) do(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	if t.accessToken != "" {
		params.Set("access_token", t.accessToken)
	}

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		u := endpoint
		if encoded := params.Encode(); encoded != "" {
			u += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx graph API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("graph API status %d: %s", e.Code, e.Body)
}
