package reporter

import (
	"log/slog"
	"time"

	"github.com/solatis/aem/internal/aem"
	"github.com/solatis/aem/internal/core/metrics"
	"github.com/solatis/aem/internal/types"
)

// Consumption hours are drawn uniformly from [minConsumptionHour, maxConsumptionHour).
const (
	minConsumptionHour = 24
	maxConsumptionHour = 48
)

// TriggerAggregation submits pending conversions, subject to the throttle.
func (r *Reporter) TriggerAggregation() {
	r.submit(r.triggerAggregation, nil)
}

// triggerAggregation sends now, or schedules a single send for when the
// throttle window opens. Every trigger pushes the window forward.
func (r *Reporter) triggerAggregation() {
	now := r.clock.Now()
	prev := r.minAggregation

	if now.Before(prev) {
		if r.aggregateTimer == nil {
			r.log.Debug("aggregation delayed", slog.Duration("wait", prev.Sub(now)))
			r.aggregateTimer = r.clock.AfterFunc(prev.Sub(now), func() {
				r.submit(func() {
					r.aggregateTimer = nil
					r.sendAggregation()
				}, nil)
			})
		}
	} else {
		r.sendAggregation()
	}

	next := now.Add(r.opts.AggregationDelay)
	if later := prev.Add(r.opts.AggregationDelay); later.After(next) {
		next = later
	}
	r.minAggregation = next
	r.persistSchedule()
}

type sentReport struct {
	id              types.InvocationID
	conversionValue int
}

// sendAggregation submits every unaggregated invocation not already in a
// batch in flight.
func (r *Reporter) sendAggregation() {
	var (
		reports []aem.ReportRequest
		sent    []sentReport
	)
	for _, inv := range r.invocations {
		if inv.IsAggregated {
			continue
		}
		if _, busy := r.inFlight[inv.ID]; busy {
			continue
		}
		r.inFlight[inv.ID] = struct{}{}
		reports = append(reports, inv.Report(r.consumptionHour(), r.opts.ConversionFiltering))
		sent = append(sent, sentReport{id: inv.ID, conversionValue: inv.ConversionValue})
	}
	if len(reports) == 0 {
		return
	}

	ctx, cancel := r.netContext()
	start := r.clock.Now()
	go func() {
		defer cancel()
		err := r.transport.SendConversions(ctx, reports)
		r.submit(func() { r.finishAggregation(sent, err, start) }, nil)
	}()
}

func (r *Reporter) consumptionHour() int {
	return minConsumptionHour + r.opts.Rand.IntN(maxConsumptionHour-minConsumptionHour)
}

func (r *Reporter) finishAggregation(sent []sentReport, err error, start time.Time) {
	for _, s := range sent {
		delete(r.inFlight, s.id)
	}
	if err != nil {
		metrics.AggregationBatches.WithLabelValues("error").Inc()
		r.log.Warn("aggregation failed, will retry on next trigger",
			slog.Int("reports", len(sent)),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.AggregationBatches.WithLabelValues("ok").Inc()
	metrics.AggregationReports.Add(float64(len(sent)))

	byID := make(map[types.InvocationID]*aem.Invocation, len(r.invocations))
	for _, inv := range r.invocations {
		byID[inv.ID] = inv
	}
	for _, s := range sent {
		inv, ok := byID[s.id]
		// A value that changed while the batch was in flight still needs reporting.
		if !ok || inv.ConversionValue != s.conversionValue {
			continue
		}
		inv.IsAggregated = true
	}
	r.persistInvocations()
	r.log.Info("aggregation sent",
		slog.Int("reports", len(sent)),
		slog.Duration("duration", r.clock.Now().Sub(start)),
	)
}
