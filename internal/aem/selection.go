package aem

import "time"

// AdNetworkReporter is the platform ad network attribution running next to
// this one. When it still reports an event for a click, attributing the same
// event here would count it twice.
type AdNetworkReporter interface {
	// ShouldCutoff reports whether the network's own attribution window has closed.
	ShouldCutoff() bool
	// IsReportingEvent reports whether the network tracks the named event.
	IsReportingEvent(name string) bool
}

// Selection controls how SelectInvocation attributes an event.
type Selection struct {
	// UpdateCache records the event on the selected invocation. False
	// previews the selection without side effects on recorded state.
	UpdateCache bool

	// MatchedBusinessIDs is non-nil when the server matched advertiser rules;
	// business scoped invocations outside the set are skipped and the rest
	// skip local rule evaluation.
	MatchedBusinessIDs map[string]struct{}

	// AdNetwork may be nil.
	AdNetwork AdNetworkReporter
}

// isDoubleCounting reports whether the ad network already reports name for inv.
func (inv *Invocation) isDoubleCounting(network AdNetworkReporter, name string) bool {
	return inv.HasStoreKitAdNetwork &&
		network != nil &&
		!network.ShouldCutoff() &&
		network.IsReportingEvent(name)
}

// SelectInvocation scans invocations newest first (the slice is ordered
// oldest first) and returns the first one that attributes ev, or nil.
//
// The scan stops entirely at a double counting invocation. Only the newest
// general (no business id) invocation is eligible for a given event.
func SelectInvocation(invocations []*Invocation, ev Event, store *ConfigurationStore, now time.Time, sel Selection) *Invocation {
	seenGeneral := false
	for i := len(invocations) - 1; i >= 0; i-- {
		inv := invocations[i]
		if inv.isDoubleCounting(sel.AdNetwork, ev.Name) {
			return nil
		}

		serverMatched := false
		if inv.BusinessID == "" {
			if seenGeneral {
				continue
			}
			seenGeneral = true
		} else if sel.MatchedBusinessIDs != nil {
			if _, ok := sel.MatchedBusinessIDs[inv.BusinessID]; !ok {
				continue
			}
			serverMatched = true
		}

		if inv.AttributeEvent(ev, store, now, sel.UpdateCache, serverMatched) {
			return inv
		}
	}
	return nil
}
