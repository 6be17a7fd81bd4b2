package reporter

import (
	"fmt"
	"log/slog"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/core/metrics"
	"github.com/solatis/aem/internal/types"
)

// refreshCall is the configuration fetch in flight. Callers arriving while
// it runs wait for its result instead of issuing their own.
type refreshCall struct {
	waiters []func(error)
}

func (c *refreshCall) resolve(err error) {
	for _, w := range c.waiters {
		w(err)
	}
}

// RefreshConfigurations fetches configurations when forced or when the
// cached ones are stale. The channel receives exactly one value.
func (r *Reporter) RefreshConfigurations(force bool) <-chan error {
	result := make(chan error, 1)
	ok := r.submit(
		func() { r.refreshIfNeeded(force, func(err error) { result <- err }) },
		func() { result <- types.ErrReporterStopped },
	)
	if !ok {
		result <- types.ErrReporterStopped
	}
	return result
}

func (r *Reporter) shouldRefresh(force bool) bool {
	if force || r.hasBusinessInvocation() || r.store.Len() == 0 || r.lastRefresh.IsZero() {
		return true
	}
	return r.clock.Now().Sub(r.lastRefresh) > r.opts.RefreshInterval
}

// refreshIfNeeded calls done on the state goroutine once configurations are
// usable, immediately when no refresh is needed.
func (r *Reporter) refreshIfNeeded(force bool, done func(error)) {
	if !r.shouldRefresh(force) {
		done(nil)
		return
	}
	if r.refresh != nil {
		r.refresh.waiters = append(r.refresh.waiters, done)
		return
	}

	call := &refreshCall{waiters: []func(error){done}}
	r.refresh = call
	businessIDs := r.businessIDs()
	ctx, cancel := r.netContext()

	go func() {
		defer cancel()
		items, err := r.transport.FetchConfigurations(ctx, businessIDs)
		r.submit(func() { r.finishRefresh(call, items, err) }, nil)
	}()
}

func (r *Reporter) finishRefresh(call *refreshCall, items []types.RawConfiguration, err error) {
	if r.refresh == call {
		r.refresh = nil
	}
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		r.log.Warn("configuration refresh failed", slog.String("error", err.Error()))
		call.resolve(fmt.Errorf("refresh configurations: %w", err))
		return
	}
	metrics.RefreshTotal.WithLabelValues("ok").Inc()

	added := 0
	for _, item := range items {
		cfg, perr := aem.ParseConfiguration(item)
		if perr != nil {
			r.log.Warn("discarding configuration", slog.String("error", perr.Error()))
			continue
		}
		if r.store.Add(cfg) {
			added++
		}
	}
	r.lastRefresh = r.clock.Now()
	if added > 0 {
		r.persistConfigurations()
	}
	r.persistSchedule()
	r.log.Debug("configurations refreshed",
		slog.Int("received", len(items)),
		slog.Int("stored", added),
	)
	call.resolve(nil)
}
