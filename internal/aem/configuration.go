// Package aem implements the aggregated event measurement attribution model:
// server-issued configurations, per-click invocations and the conversion
// value state machine that ties them together.
package aem

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/solatis/aem/internal/rules"
	"github.com/solatis/aem/internal/types"
)

// Configuration modes delivered by the server. Other values are kept verbatim.
const (
	ModeDefault = "DEFAULT"
	ModeBrand   = "BRAND"
	ModeCPAS    = "CPAS"
)

// EventSpec names an event a value rule requires, with optional per-currency
// minimum values. Currency keys are upper-cased.
type EventSpec struct {
	Name       string
	Thresholds map[string]float64
}

// ConversionValueRule maps a set of recorded events to a conversion value.
type ConversionValueRule struct {
	ConversionValue int
	Priority        int
	Events          []EventSpec
}

// Configuration is an immutable, versioned ruleset. ValidFrom is the version
// key within a (Mode, BusinessID) scope.
type Configuration struct {
	ValidFrom       int64
	CutoffDays      int
	DefaultCurrency string
	Mode            string
	BusinessID      string
	MatchingRule    rules.Expression
	ValueRules      []ConversionValueRule
	EventSet        map[string]struct{}
	CurrencySet     map[string]struct{}
}

// Wire format of one configuration item.
type configurationJSON struct {
	DefaultCurrency      *string         `json:"default_currency"`
	CutoffTime           *int            `json:"cutoff_time"`
	ValidFrom            *int64          `json:"valid_from"`
	ConfigMode           string          `json:"config_mode,omitempty"`
	AdvertiserID         string          `json:"advertiser_id,omitempty"`
	ParamRule            string          `json:"param_rule,omitempty"`
	ConversionValueRules []valueRuleJSON `json:"conversion_value_rules"`
}

type valueRuleJSON struct {
	ConversionValue *int        `json:"conversion_value"`
	Priority        *int        `json:"priority"`
	Events          []eventJSON `json:"events"`
}

type eventJSON struct {
	EventName string          `json:"event_name"`
	Values    []thresholdJSON `json:"values,omitempty"`
}

type thresholdJSON struct {
	Currency string   `json:"currency"`
	Amount   *float64 `json:"amount"`
}

// ParseConfiguration decodes one configuration item. Any invalid part
// discards the whole item; no partial configuration is returned.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var raw configurationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfiguration, err)
	}
	if raw.DefaultCurrency == nil || raw.CutoffTime == nil || raw.ValidFrom == nil {
		return nil, fmt.Errorf("%w: default_currency, cutoff_time and valid_from are required", types.ErrInvalidConfiguration)
	}

	cfg := &Configuration{
		ValidFrom:       *raw.ValidFrom,
		CutoffDays:      *raw.CutoffTime,
		DefaultCurrency: strings.ToUpper(*raw.DefaultCurrency),
		Mode:            raw.ConfigMode,
		BusinessID:      raw.AdvertiserID,
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDefault
	}

	if raw.ParamRule != "" {
		rule, err := rules.Parse([]byte(raw.ParamRule))
		switch {
		case err == nil:
			cfg.MatchingRule = rule
		case cfg.BusinessID != "":
			return nil, fmt.Errorf("%w: %v", types.ErrMissingMatchingRule, err)
		}
	}
	if cfg.BusinessID != "" && cfg.MatchingRule == nil {
		return nil, types.ErrMissingMatchingRule
	}

	if len(raw.ConversionValueRules) == 0 {
		return nil, types.ErrNoValueRules
	}
	valueRules := make([]ConversionValueRule, 0, len(raw.ConversionValueRules))
	for i, r := range raw.ConversionValueRules {
		rule, err := parseValueRule(r)
		if err != nil {
			return nil, fmt.Errorf("conversion_value_rules[%d]: %w", i, err)
		}
		valueRules = append(valueRules, rule)
	}
	return newConfiguration(cfg, valueRules), nil
}

// NewConfiguration builds a configuration programmatically. It enforces the
// same invariants as ParseConfiguration.
func NewConfiguration(validFrom int64, cutoffDays int, defaultCurrency, mode, businessID string, matchingRule rules.Expression, valueRules []ConversionValueRule) (*Configuration, error) {
	if businessID != "" && matchingRule == nil {
		return nil, types.ErrMissingMatchingRule
	}
	if len(valueRules) == 0 {
		return nil, types.ErrNoValueRules
	}
	if mode == "" {
		mode = ModeDefault
	}
	cfg := &Configuration{
		ValidFrom:       validFrom,
		CutoffDays:      cutoffDays,
		DefaultCurrency: strings.ToUpper(defaultCurrency),
		Mode:            mode,
		BusinessID:      businessID,
		MatchingRule:    matchingRule,
	}
	normalized := make([]ConversionValueRule, len(valueRules))
	for i, r := range valueRules {
		if len(r.Events) == 0 {
			return nil, fmt.Errorf("%w: rule %d has no events", types.ErrInvalidValueRule, i)
		}
		events := make([]EventSpec, len(r.Events))
		for j, ev := range r.Events {
			events[j] = EventSpec{Name: ev.Name, Thresholds: upperKeys(ev.Thresholds)}
		}
		normalized[i] = ConversionValueRule{ConversionValue: r.ConversionValue, Priority: r.Priority, Events: events}
	}
	return newConfiguration(cfg, normalized), nil
}

// newConfiguration sorts value rules by priority and derives the lookup sets.
func newConfiguration(cfg *Configuration, valueRules []ConversionValueRule) *Configuration {
	slices.SortStableFunc(valueRules, func(a, b ConversionValueRule) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	cfg.ValueRules = valueRules
	cfg.EventSet = make(map[string]struct{})
	cfg.CurrencySet = make(map[string]struct{})
	for _, r := range valueRules {
		for _, ev := range r.Events {
			cfg.EventSet[ev.Name] = struct{}{}
			for currency := range ev.Thresholds {
				cfg.CurrencySet[currency] = struct{}{}
			}
		}
	}
	return cfg
}

func parseValueRule(raw valueRuleJSON) (ConversionValueRule, error) {
	if raw.ConversionValue == nil || raw.Priority == nil || len(raw.Events) == 0 {
		return ConversionValueRule{}, types.ErrInvalidValueRule
	}
	events := make([]EventSpec, 0, len(raw.Events))
	for _, ev := range raw.Events {
		if ev.EventName == "" {
			return ConversionValueRule{}, fmt.Errorf("%w: event without name", types.ErrInvalidValueRule)
		}
		spec := EventSpec{Name: ev.EventName}
		for _, v := range ev.Values {
			if v.Currency == "" || v.Amount == nil {
				return ConversionValueRule{}, fmt.Errorf("%w: threshold on %s needs currency and amount", types.ErrInvalidValueRule, ev.EventName)
			}
			if spec.Thresholds == nil {
				spec.Thresholds = make(map[string]float64, len(ev.Values))
			}
			spec.Thresholds[strings.ToUpper(v.Currency)] = *v.Amount
		}
		events = append(events, spec)
	}
	return ConversionValueRule{
		ConversionValue: *raw.ConversionValue,
		Priority:        *raw.Priority,
		Events:          events,
	}, nil
}

func upperKeys(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// HasEvent reports whether any value rule references name.
func (c *Configuration) HasEvent(name string) bool {
	_, ok := c.EventSet[name]
	return ok
}

// HasCurrency reports whether currency (any case) appears in a threshold.
func (c *Configuration) HasCurrency(currency string) bool {
	_, ok := c.CurrencySet[strings.ToUpper(currency)]
	return ok
}

// SameVersion reports whether c and other share the (valid_from, business_id) key.
func (c *Configuration) SameVersion(other *Configuration) bool {
	return c.ValidFrom == other.ValidFrom && c.BusinessID == other.BusinessID
}

// ContainsEvent reports whether the rule requires name.
func (r ConversionValueRule) ContainsEvent(name string) bool {
	for _, ev := range r.Events {
		if ev.Name == name {
			return true
		}
	}
	return false
}

// IsMatched reports whether every required event was recorded and, for
// events with thresholds, at least one currency reached its minimum.
func (r ConversionValueRule) IsMatched(recordedEvents map[string]struct{}, recordedValues map[string]map[string]float64) bool {
	for _, ev := range r.Events {
		if _, ok := recordedEvents[ev.Name]; !ok {
			return false
		}
		if len(ev.Thresholds) == 0 {
			continue
		}
		values := recordedValues[ev.Name]
		met := false
		for currency, minimum := range ev.Thresholds {
			if v, ok := values[currency]; ok && v >= minimum {
				met = true
				break
			}
		}
		if !met {
			return false
		}
	}
	return true
}

// MarshalJSON emits the server wire format so persisted configurations
// parse through the same path as fresh ones.
func (c *Configuration) MarshalJSON() ([]byte, error) {
	currency := c.DefaultCurrency
	cutoff := c.CutoffDays
	validFrom := c.ValidFrom
	raw := configurationJSON{
		DefaultCurrency: &currency,
		CutoffTime:      &cutoff,
		ValidFrom:       &validFrom,
		ConfigMode:      c.Mode,
		AdvertiserID:    c.BusinessID,
	}
	if c.MatchingRule != nil {
		rule, err := rules.Marshal(c.MatchingRule)
		if err != nil {
			return nil, err
		}
		raw.ParamRule = string(rule)
	}
	for _, r := range c.ValueRules {
		cv, priority := r.ConversionValue, r.Priority
		vr := valueRuleJSON{ConversionValue: &cv, Priority: &priority}
		for _, ev := range r.Events {
			ej := eventJSON{EventName: ev.Name}
			currencies := make([]string, 0, len(ev.Thresholds))
			for k := range ev.Thresholds {
				currencies = append(currencies, k)
			}
			slices.Sort(currencies)
			for _, k := range currencies {
				amount := ev.Thresholds[k]
				ej.Values = append(ej.Values, thresholdJSON{Currency: k, Amount: &amount})
			}
			vr.Events = append(vr.Events, ej)
		}
		raw.ConversionValueRules = append(raw.ConversionValueRules, vr)
	}
	return json.Marshal(raw)
}
