package reporter

import (
	"context"
	"log/slog"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/core/metrics"
)

// ClearCache evicts aggregated invocations whose window has closed and
// configurations no surviving invocation uses. The newest DEFAULT
// configuration is always kept.
func (r *Reporter) ClearCache(ctx context.Context) error {
	return r.call(ctx, r.clearCache)
}

func (r *Reporter) clearCache() {
	now := r.clock.Now()
	referenced := make(map[*aem.Configuration]struct{})
	kept := make([]*aem.Invocation, 0, len(r.invocations))
	rebound := false

	for _, inv := range r.invocations {
		wasBound := inv.IsBound()
		cfg := inv.FindConfiguration(r.store)
		if !wasBound && inv.IsBound() {
			rebound = true
		}
		if inv.IsAggregated && inv.IsOutOfWindow(cfg, now) {
			continue
		}
		kept = append(kept, inv)
		if cfg != nil {
			referenced[cfg] = struct{}{}
		}
	}

	evicted := len(r.invocations) - len(kept)
	r.invocations = kept
	// Bindings made here are sticky and must survive a restart.
	if evicted > 0 || rebound {
		r.persistInvocations()
	}

	latest := r.store.LatestDefault()
	before := r.store.Len()
	if r.store.Retain(func(cfg *aem.Configuration) bool {
		if cfg == latest {
			return true
		}
		_, ok := referenced[cfg]
		return ok
	}) {
		r.persistConfigurations()
	}

	metrics.Invocations.Set(float64(len(r.invocations)))
	metrics.Configurations.Set(float64(r.store.Len()))
	if evicted > 0 || before != r.store.Len() {
		r.log.Info("cache cleared",
			slog.Int("invocations_evicted", evicted),
			slog.Int("configurations_evicted", before-r.store.Len()),
		)
	}
}
