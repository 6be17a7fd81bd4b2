package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/codec"
	"github.com/solatis/aem/internal/core/metrics"
	"github.com/solatis/aem/internal/types"
)

// Keys of the persisted blobs.
const (
	KeyConfigurations = "aem.configurations"
	KeyInvocations    = "aem.invocations"
	KeySchedule       = "aem.schedule"
)

// schedule holds the refresh and throttle timestamps, in unix milliseconds.
type schedule struct {
	LastRefresh    int64 `json:"last_refresh,omitempty"`
	MinAggregation int64 `json:"min_aggregation,omitempty"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// load restores state. Unreadable blobs and records degrade to empty
// defaults with a warning.
func (r *Reporter) load() {
	for _, rec := range r.loadRecords(KeyConfigurations) {
		cfg, err := aem.ParseConfiguration(rec)
		if err != nil {
			r.log.Warn("discarding persisted configuration", slog.String("error", err.Error()))
			continue
		}
		r.store.Add(cfg)
	}

	for _, rec := range r.loadRecords(KeyInvocations) {
		inv := &aem.Invocation{}
		if err := json.Unmarshal(rec, inv); err != nil {
			r.log.Warn("discarding persisted invocation", slog.String("error", err.Error()))
			continue
		}
		r.invocations = append(r.invocations, inv)
	}

	if recs := r.loadRecords(KeySchedule); len(recs) > 0 {
		var s schedule
		if err := json.Unmarshal(recs[0], &s); err != nil {
			r.log.Warn("discarding persisted schedule", slog.String("error", err.Error()))
		} else {
			r.lastRefresh = fromMillis(s.LastRefresh)
			r.minAggregation = fromMillis(s.MinAggregation)
		}
	}

	metrics.Invocations.Set(float64(len(r.invocations)))
	metrics.Configurations.Set(float64(r.store.Len()))
}

func (r *Reporter) loadRecords(key string) [][]byte {
	ctx, cancel := context.WithTimeout(r.bg, persistTimeout)
	defer cancel()

	data, err := r.kv.Get(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		r.log.Warn("failed to read persisted state", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	records, err := codec.Decode(data)
	if err != nil {
		r.log.Warn("corrupt persisted state", slog.String("key", key), slog.String("error", err.Error()))
		return nil
	}
	return records
}

func (r *Reporter) persistConfigurations() {
	all := r.store.All()
	records := make([][]byte, 0, len(all))
	for _, cfg := range all {
		data, err := cfg.MarshalJSON()
		if err != nil {
			r.log.Warn("failed to encode configuration", slog.String("error", err.Error()))
			continue
		}
		records = append(records, data)
	}
	r.put(KeyConfigurations, records)
}

func (r *Reporter) persistInvocations() {
	records := make([][]byte, 0, len(r.invocations))
	for _, inv := range r.invocations {
		data, err := json.Marshal(inv)
		if err != nil {
			r.log.Warn("failed to encode invocation", slog.String("error", err.Error()))
			continue
		}
		records = append(records, data)
	}
	r.put(KeyInvocations, records)
}

func (r *Reporter) persistSchedule() {
	data, err := json.Marshal(schedule{
		LastRefresh:    toMillis(r.lastRefresh),
		MinAggregation: toMillis(r.minAggregation),
	})
	if err != nil {
		r.log.Warn("failed to encode schedule", slog.String("error", err.Error()))
		return
	}
	r.put(KeySchedule, [][]byte{data})
}

func (r *Reporter) put(key string, records [][]byte) {
	ctx, cancel := context.WithTimeout(r.bg, persistTimeout)
	defer cancel()

	if err := r.kv.Put(ctx, key, codec.Encode(records)); err != nil {
		metrics.PersistErrors.Inc()
		r.log.Warn("failed to persist state", slog.String("key", key), slog.String("error", err.Error()))
	}
}
