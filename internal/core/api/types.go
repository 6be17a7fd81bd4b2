package api

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/types"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DeepLinkRequest carries a click URL.
type DeepLinkRequest struct {
	URL string `json:"url"`
}

// DeepLinkResponse describes the stored invocation.
type DeepLinkResponse struct {
	InvocationID string `json:"invocation_id"`
	TestMode     bool   `json:"test_mode"`
}

// EventRequest is one in-app event.
type EventRequest struct {
	EventName string       `json:"event_name"`
	Currency  string       `json:"currency,omitempty"`
	Value     *float64     `json:"value,omitempty"`
	Params    types.Params `json:"params,omitempty"`
}

// Validate checks required fields.
func (r *EventRequest) Validate() *ErrorResponse {
	r.EventName = strings.TrimSpace(r.EventName)
	if r.EventName == "" {
		return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "event_name is required"}
	}
	return nil
}

func (r *EventRequest) toEvent() aem.Event {
	params := r.Params
	if params == nil {
		params = types.Params{}
	}
	return aem.Event{Name: r.EventName, Currency: r.Currency, Value: r.Value, Params: params}
}

// EventResponse is the attribution outcome.
type EventResponse struct {
	Attributed   bool   `json:"attributed"`
	Updated      bool   `json:"updated"`
	InvocationID string `json:"invocation_id,omitempty"`
}

// RefreshRequest optionally forces a configuration refresh.
type RefreshRequest struct {
	Force bool `json:"force"`
}

// InvocationResponse is the public view of an invocation. Signing material
// is never exposed.
type InvocationResponse struct {
	ID               string                        `json:"id"`
	CampaignID       string                        `json:"campaign_id"`
	BusinessID       string                        `json:"business_id,omitempty"`
	CatalogID        string                        `json:"catalog_id,omitempty"`
	CreatedAt        time.Time                     `json:"created_at"`
	ConfigMode       string                        `json:"config_mode"`
	ConfigVersion    int64                         `json:"config_version"`
	RecordedEvents   []string                      `json:"recorded_events"`
	RecordedValues   map[string]map[string]float64 `json:"recorded_values,omitempty"`
	ConversionValue  int                           `json:"conversion_value"`
	Priority         int                           `json:"priority"`
	LastConversionAt *time.Time                    `json:"last_conversion_at,omitempty"`
	IsAggregated     bool                          `json:"is_aggregated"`
}

func mapInvocation(inv *aem.Invocation) InvocationResponse {
	resp := InvocationResponse{
		ID:              string(inv.ID),
		CampaignID:      inv.CampaignID,
		BusinessID:      inv.BusinessID,
		CatalogID:       inv.CatalogID,
		CreatedAt:       inv.CreatedAt.UTC(),
		ConfigMode:      inv.ConfigMode,
		ConfigVersion:   inv.ConfigVersion,
		RecordedEvents:  slices.Sorted(maps.Keys(inv.RecordedEvents)),
		RecordedValues:  inv.RecordedValues,
		ConversionValue: inv.ConversionValue,
		Priority:        inv.Priority,
		IsAggregated:    inv.IsAggregated,
	}
	if resp.RecordedEvents == nil {
		resp.RecordedEvents = []string{}
	}
	if !inv.ConversionTimestamp.IsZero() {
		ts := inv.ConversionTimestamp.UTC()
		resp.LastConversionAt = &ts
	}
	return resp
}

// ListResponse wraps collections.
type ListResponse[T any] struct {
	Data []T `json:"data"`
}

func mapConfigurations(cfgs []*aem.Configuration) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(cfgs))
	for _, cfg := range cfgs {
		data, err := cfg.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
