package reporter

import (
	"fmt"
	"log/slog"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/core/metrics"
	"github.com/solatis/aem/internal/transport"
	"github.com/solatis/aem/internal/types"
)

// DeepLinkResult describes an ingested deep link.
type DeepLinkResult struct {
	InvocationID types.InvocationID
	// TestMode links are reported immediately with a debug report and not stored.
	TestMode bool
}

// HandleDeepLink parses rawURL and stores the resulting invocation. The
// invocation is visible to events recorded after this call returns.
func (r *Reporter) HandleDeepLink(rawURL string) (DeepLinkResult, error) {
	inv, err := aem.ParseDeepLink(rawURL, r.clock.Now())
	if err != nil {
		metrics.DeepLinksTotal.WithLabelValues("invalid").Inc()
		return DeepLinkResult{}, err
	}

	if inv.IsTestMode {
		metrics.DeepLinksTotal.WithLabelValues("test").Inc()
		if !r.submit(func() { r.sendDebugReport(inv) }, nil) {
			return DeepLinkResult{}, types.ErrReporterStopped
		}
		return DeepLinkResult{InvocationID: inv.ID, TestMode: true}, nil
	}

	if !r.submit(func() { r.addInvocation(inv) }, nil) {
		return DeepLinkResult{}, types.ErrReporterStopped
	}
	metrics.DeepLinksTotal.WithLabelValues("stored").Inc()
	return DeepLinkResult{InvocationID: inv.ID}, nil
}

func (r *Reporter) addInvocation(inv *aem.Invocation) {
	r.invocations = append(r.invocations, inv)
	metrics.Invocations.Set(float64(len(r.invocations)))
	r.persistInvocations()
	r.log.Info("invocation stored",
		slog.String("invocation_id", string(inv.ID)),
		slog.String("campaign_id", inv.CampaignID),
		slog.String("business_id", inv.BusinessID),
	)

	r.refreshIfNeeded(false, func(err error) {
		if err != nil {
			r.log.Debug("refresh after deep link failed", slog.String("error", err.Error()))
		}
	})
}

func (r *Reporter) sendDebugReport(inv *aem.Invocation) {
	report := inv.DebugReport()
	ctx, cancel := r.netContext()
	log := r.log.With(slog.String("campaign_id", inv.CampaignID))
	go func() {
		defer cancel()
		if err := r.transport.SendConversions(ctx, []aem.ReportRequest{report}); err != nil {
			log.Warn("debug report failed", slog.String("error", err.Error()))
			return
		}
		log.Info("debug report sent")
	}()
}

// RecordResult is the outcome of RecordEvent.
type RecordResult struct {
	// InvocationID is the invocation the event was attributed to, if any.
	InvocationID types.InvocationID
	Attributed   bool
	// Updated means the conversion value changed and aggregation was triggered.
	Updated bool
	Err     error
}

// RecordEvent attributes an in-app event to the most recent eligible
// invocation. The channel receives exactly one result.
func (r *Reporter) RecordEvent(ev aem.Event) <-chan RecordResult {
	result := make(chan RecordResult, 1)
	ok := r.submit(
		func() { r.recordEvent(ev, result) },
		func() { result <- RecordResult{Err: types.ErrReporterStopped} },
	)
	if !ok {
		result <- RecordResult{Err: types.ErrReporterStopped}
	}
	return result
}

// eventStep is one continuation of the event pipeline. matched is nil
// unless the server evaluated advertiser rules; boost reports a successful
// catalog check.
type eventStep func(matched map[string]struct{}, boost bool)

func (r *Reporter) recordEvent(ev aem.Event, result chan<- RecordResult) {
	if len(r.invocations) == 0 {
		metrics.EventsTotal.WithLabelValues("ignored").Inc()
		result <- RecordResult{}
		return
	}

	r.refreshIfNeeded(false, func(err error) {
		if err != nil {
			result <- RecordResult{Err: fmt.Errorf("record %s: %w", ev.Name, err)}
			return
		}
		attribute := func(matched map[string]struct{}, boost bool) {
			result <- r.attribute(ev, matched, boost)
		}
		switch {
		case r.opts.ServerRuleMatch && r.hasBusinessInvocation():
			r.matchRules(ev, attribute, result)
		case r.opts.ConversionFiltering && r.opts.CatalogMatching:
			r.checkCatalog(ev, attribute, result)
		default:
			attribute(nil, false)
		}
	})
}

// matchRules asks the server which businesses' rules match ev. On failure
// the event falls back to local rule evaluation.
func (r *Reporter) matchRules(ev aem.Event, next eventStep, result chan<- RecordResult) {
	req := transport.RuleMatchRequest{
		BusinessIDs: r.businessIDs(),
		EventName:   ev.Name,
		Currency:    ev.Currency,
		Value:       ev.Value,
		Params:      ev.Params,
	}
	ctx, cancel := r.netContext()
	go func() {
		defer cancel()
		ids, err := r.transport.MatchRules(ctx, req)
		ok := r.submit(func() {
			if err != nil {
				r.log.Warn("server rule match failed, matching locally", slog.String("error", err.Error()))
				next(nil, false)
				return
			}
			matched := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				matched[id] = struct{}{}
			}
			next(matched, false)
		}, func() { result <- RecordResult{Err: types.ErrReporterStopped} })
		if !ok {
			result <- RecordResult{Err: types.ErrReporterStopped}
		}
	}()
}

// checkCatalog boosts the event when the invocation it would be attributed
// to runs a catalog optimized campaign and the event's content belongs to
// that catalog.
func (r *Reporter) checkCatalog(ev aem.Event, next eventStep, result chan<- RecordResult) {
	preview := aem.SelectInvocation(r.invocations, ev, r.store, r.clock.Now(), aem.Selection{
		AdNetwork: r.opts.AdNetwork,
	})
	if preview == nil || preview.CatalogID == "" || !preview.IsConversionFilteringEligible ||
		!preview.IsOptimizedEvent(ev.Name, preview.FindConfiguration(r.store), r.opts.Tuning) {
		next(nil, false)
		return
	}
	contentID := aem.ContentID(ev.Params)
	if contentID == "" {
		next(nil, false)
		return
	}

	catalogID := preview.CatalogID
	ctx, cancel := r.netContext()
	go func() {
		defer cancel()
		belongs, err := r.transport.CheckCatalog(ctx, catalogID, contentID)
		ok := r.submit(func() {
			if err != nil {
				r.log.Warn("catalog check failed", slog.String("error", err.Error()))
			}
			next(nil, err == nil && belongs)
		}, func() { result <- RecordResult{Err: types.ErrReporterStopped} })
		if !ok {
			result <- RecordResult{Err: types.ErrReporterStopped}
		}
	}()
}

func (r *Reporter) attribute(ev aem.Event, matched map[string]struct{}, boost bool) RecordResult {
	now := r.clock.Now()
	inv := aem.SelectInvocation(r.invocations, ev, r.store, now, aem.Selection{
		UpdateCache:        true,
		MatchedBusinessIDs: matched,
		AdNetwork:          r.opts.AdNetwork,
	})
	if inv == nil {
		metrics.EventsTotal.WithLabelValues("ignored").Inc()
		return RecordResult{}
	}

	updated := inv.UpdateConversionValue(r.store, ev.Name, boost, r.opts.Tuning, now)
	r.persistInvocations()

	log := r.log.With(
		slog.String("invocation_id", string(inv.ID)),
		slog.String("event", ev.Name),
	)
	if updated {
		metrics.EventsTotal.WithLabelValues("updated").Inc()
		log.Info("conversion value updated",
			slog.Int("conversion_value", inv.ConversionValue),
			slog.Int("priority", inv.Priority),
		)
		r.triggerAggregation()
	} else {
		metrics.EventsTotal.WithLabelValues("attributed").Inc()
		log.Debug("event attributed")
	}
	return RecordResult{InvocationID: inv.ID, Attributed: true, Updated: updated}
}
