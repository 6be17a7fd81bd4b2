package aem

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/solatis/aem/internal/rules"
	"github.com/solatis/aem/internal/types"
)

const (
	day = 24 * time.Hour

	// conversionWindow bounds how long after its last conversion an
	// invocation may still be updated.
	conversionWindow = day

	unset = -1
)

// Invocation is the attribution record of one ad click.
//
// State progresses unbound -> bound (no conversion) -> bound (has conversion)
// -> out of window. Binding is sticky: once ConfigVersion is set the
// invocation keeps resolving to that configuration even when newer ones
// arrive.
type Invocation struct {
	ID                            types.InvocationID
	CampaignID                    string
	ACSToken                      string
	ACSSharedSecret               string
	ACSConfigID                   string
	BusinessID                    string
	CatalogID                     string
	IsTestMode                    bool
	HasStoreKitAdNetwork          bool
	IsConversionFilteringEligible bool
	CreatedAt                     time.Time

	ConfigMode    string
	ConfigVersion int64

	RecordedEvents      map[string]struct{}
	RecordedValues      map[string]map[string]float64
	ConversionValue     int
	Priority            int
	ConversionTimestamp time.Time
	IsAggregated        bool
}

// NewInvocation creates an unbound invocation with no conversion.
func NewInvocation(campaignID, acsToken string, createdAt time.Time) *Invocation {
	return &Invocation{
		ID:              types.NewInvocationID(),
		CampaignID:      campaignID,
		ACSToken:        acsToken,
		CreatedAt:       createdAt,
		ConfigMode:      ModeDefault,
		ConfigVersion:   unset,
		RecordedEvents:  make(map[string]struct{}),
		RecordedValues:  make(map[string]map[string]float64),
		ConversionValue: unset,
		Priority:        unset,
		IsAggregated:    true,
	}
}

// Event is one in-app event as seen by attribution.
type Event struct {
	Name     string
	Currency string
	Value    *float64
	Params   types.Params
}

// IsBound reports whether the invocation has a sticky configuration.
func (inv *Invocation) IsBound() bool {
	return inv.ConfigVersion > 0
}

// HasConversion reports whether any value rule has matched.
func (inv *Invocation) HasConversion() bool {
	return inv.ConversionValue != unset
}

// FindConfiguration resolves the configuration governing inv, binding it on
// first resolution.
func (inv *Invocation) FindConfiguration(store *ConfigurationStore) *Configuration {
	candidates := store.Candidates(inv.BusinessID != "")
	if inv.IsBound() {
		for _, c := range candidates {
			if c.ValidFrom == inv.ConfigVersion && c.BusinessID == inv.BusinessID {
				return c
			}
		}
		return nil
	}

	created := inv.CreatedAt.Unix()
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		if c.ValidFrom <= created && c.BusinessID == inv.BusinessID {
			inv.ConfigMode = c.Mode
			inv.ConfigVersion = c.ValidFrom
			return c
		}
	}
	return nil
}

// IsOutOfWindow reports whether inv can no longer be attributed under cfg:
// the click is older than the cutoff, or the last conversion is older than
// one day. A missing configuration is never out of window.
func (inv *Invocation) IsOutOfWindow(cfg *Configuration, now time.Time) bool {
	if cfg == nil {
		return false
	}
	if now.Sub(inv.CreatedAt) > time.Duration(cfg.CutoffDays)*day {
		return true
	}
	return !inv.ConversionTimestamp.IsZero() && now.Sub(inv.ConversionTimestamp) > conversionWindow
}

// AttributeEvent records ev against inv. With updateCache false the call
// only reports whether the event would be attributed. serverMatched skips
// local advertiser rule evaluation because the server already matched it.
func (inv *Invocation) AttributeEvent(ev Event, store *ConfigurationStore, now time.Time, updateCache, serverMatched bool) bool {
	cfg := inv.FindConfiguration(store)
	if cfg == nil || inv.IsOutOfWindow(cfg, now) || !cfg.HasEvent(ev.Name) {
		return false
	}

	params := DecodeParams(ev.Params)
	if !serverMatched && cfg.MatchingRule != nil && !rules.Evaluate(cfg.MatchingRule, params) {
		return false
	}

	_, seen := inv.RecordedEvents[ev.Name]
	attributed := !seen
	if attributed && updateCache {
		inv.RecordedEvents[ev.Name] = struct{}{}
	}

	currency := strings.ToUpper(ev.Currency)
	if !cfg.HasCurrency(currency) {
		currency = cfg.DefaultCurrency
	}

	value := ev.Value
	if cfg.Mode == ModeCPAS && !serverMatched {
		v := InSegmentValue(params, cfg.MatchingRule)
		value = &v
	}

	if value != nil {
		recorded := inv.RecordedValues[ev.Name]
		if *value > recorded[currency] {
			if updateCache {
				if recorded == nil {
					recorded = make(map[string]float64)
					inv.RecordedValues[ev.Name] = recorded
				}
				recorded[currency] = *value
			}
			attributed = true
		}
	}
	return attributed
}

// UpdateConversionValue re-evaluates the value rules against the recorded
// state. Rules run in priority order and every rule whose effective priority
// exceeds the running priority may apply, so a boosted rule can be superseded
// within the same pass.
func (inv *Invocation) UpdateConversionValue(store *ConfigurationStore, eventName string, boost bool, tuning Tuning, now time.Time) bool {
	cfg := inv.FindConfiguration(store)
	if cfg == nil {
		return false
	}

	optimized := boost && inv.IsConversionFilteringEligible && inv.IsOptimizedEvent(eventName, cfg, tuning)
	updated := false
	for _, rule := range cfg.ValueRules {
		priority := rule.Priority
		if optimized && rule.ContainsEvent(eventName) {
			priority += tuning.PriorityBoost
		}
		if priority <= inv.Priority {
			continue
		}
		if !rule.IsMatched(inv.RecordedEvents, inv.RecordedValues) {
			continue
		}
		inv.ConversionValue = rule.ConversionValue
		inv.Priority = priority
		inv.ConversionTimestamp = now
		inv.IsAggregated = false
		updated = true
	}
	return updated
}

// IsOptimizedEvent reports whether the campaign is catalog optimized for
// eventName: some rule containing the event has a conversion value congruent
// to the campaign id modulo tuning.CatalogModulus.
func (inv *Invocation) IsOptimizedEvent(eventName string, cfg *Configuration, tuning Tuning) bool {
	if cfg == nil || tuning.CatalogModulus <= 0 {
		return false
	}
	campaign, err := strconv.ParseInt(inv.CampaignID, 10, 64)
	if err != nil {
		return false
	}
	for _, rule := range cfg.ValueRules {
		if !rule.ContainsEvent(eventName) {
			continue
		}
		if mod(campaign, tuning.CatalogModulus) == mod(int64(rule.ConversionValue), tuning.CatalogModulus) {
			return true
		}
	}
	return false
}

func mod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}

// Clone returns a deep copy of inv.
func (inv *Invocation) Clone() *Invocation {
	out := *inv
	out.RecordedEvents = maps.Clone(inv.RecordedEvents)
	if out.RecordedEvents == nil {
		out.RecordedEvents = make(map[string]struct{})
	}
	out.RecordedValues = make(map[string]map[string]float64, len(inv.RecordedValues))
	for k, v := range inv.RecordedValues {
		out.RecordedValues[k] = maps.Clone(v)
	}
	return &out
}

// invocationRecord is the persisted form of an Invocation.
type invocationRecord struct {
	ID                            string                        `json:"id"`
	CampaignID                    string                        `json:"campaign_id"`
	ACSToken                      string                        `json:"acs_token"`
	ACSSharedSecret               string                        `json:"acs_shared_secret,omitempty"`
	ACSConfigID                   string                        `json:"acs_config_id,omitempty"`
	BusinessID                    string                        `json:"business_id,omitempty"`
	CatalogID                     string                        `json:"catalog_id,omitempty"`
	IsTestMode                    bool                          `json:"is_test_mode,omitempty"`
	HasStoreKitAdNetwork          bool                          `json:"has_skan,omitempty"`
	IsConversionFilteringEligible bool                          `json:"is_conversion_filtering_eligible,omitempty"`
	Timestamp                     int64                         `json:"timestamp"`
	ConfigMode                    string                        `json:"config_mode"`
	ConfigVersion                 int64                         `json:"config_version"`
	RecordedEvents                []string                      `json:"recorded_events"`
	RecordedValues                map[string]map[string]float64 `json:"recorded_values"`
	ConversionValue               int                           `json:"conversion_value"`
	Priority                      int                           `json:"priority"`
	ConversionTimestamp           int64                         `json:"conversion_timestamp,omitempty"`
	IsAggregated                  bool                          `json:"is_aggregated"`
}

// MarshalJSON encodes the persisted record. Timestamps are epoch seconds.
func (inv *Invocation) MarshalJSON() ([]byte, error) {
	rec := invocationRecord{
		ID:                            string(inv.ID),
		CampaignID:                    inv.CampaignID,
		ACSToken:                      inv.ACSToken,
		ACSSharedSecret:               inv.ACSSharedSecret,
		ACSConfigID:                   inv.ACSConfigID,
		BusinessID:                    inv.BusinessID,
		CatalogID:                     inv.CatalogID,
		IsTestMode:                    inv.IsTestMode,
		HasStoreKitAdNetwork:          inv.HasStoreKitAdNetwork,
		IsConversionFilteringEligible: inv.IsConversionFilteringEligible,
		Timestamp:                     inv.CreatedAt.Unix(),
		ConfigMode:                    inv.ConfigMode,
		ConfigVersion:                 inv.ConfigVersion,
		RecordedEvents:                slices.Sorted(maps.Keys(inv.RecordedEvents)),
		RecordedValues:                inv.RecordedValues,
		ConversionValue:               inv.ConversionValue,
		Priority:                      inv.Priority,
		IsAggregated:                  inv.IsAggregated,
	}
	if !inv.ConversionTimestamp.IsZero() {
		rec.ConversionTimestamp = inv.ConversionTimestamp.Unix()
	}
	return json.Marshal(rec)
}

// UnmarshalJSON restores a persisted record. Records without campaign id or
// token are rejected.
func (inv *Invocation) UnmarshalJSON(data []byte) error {
	var rec invocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.CampaignID == "" || rec.ACSToken == "" {
		return fmt.Errorf("%w: invocation without campaign id or token", types.ErrMalformedRecord)
	}

	id, err := types.ParseInvocationID(rec.ID)
	if err != nil {
		id = types.NewInvocationID()
	}

	*inv = Invocation{
		ID:                            id,
		CampaignID:                    rec.CampaignID,
		ACSToken:                      rec.ACSToken,
		ACSSharedSecret:               rec.ACSSharedSecret,
		ACSConfigID:                   rec.ACSConfigID,
		BusinessID:                    rec.BusinessID,
		CatalogID:                     rec.CatalogID,
		IsTestMode:                    rec.IsTestMode,
		HasStoreKitAdNetwork:          rec.HasStoreKitAdNetwork,
		IsConversionFilteringEligible: rec.IsConversionFilteringEligible,
		CreatedAt:                     time.Unix(rec.Timestamp, 0),
		ConfigMode:                    rec.ConfigMode,
		ConfigVersion:                 rec.ConfigVersion,
		RecordedEvents:                make(map[string]struct{}, len(rec.RecordedEvents)),
		RecordedValues:                rec.RecordedValues,
		ConversionValue:               rec.ConversionValue,
		Priority:                      rec.Priority,
		IsAggregated:                  rec.IsAggregated,
	}
	if inv.ConfigMode == "" {
		inv.ConfigMode = ModeDefault
	}
	for _, name := range rec.RecordedEvents {
		inv.RecordedEvents[name] = struct{}{}
	}
	if inv.RecordedValues == nil {
		inv.RecordedValues = make(map[string]map[string]float64)
	}
	if rec.ConversionTimestamp != 0 {
		inv.ConversionTimestamp = time.Unix(rec.ConversionTimestamp, 0)
	}
	return nil
}
