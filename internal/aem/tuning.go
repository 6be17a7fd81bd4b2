package aem

// Tuning carries the catalog optimization constants. The defaults match the
// 6-bit conversion value encoding used by the ad network; both stay
// configurable because that coupling is inferred rather than documented.
type Tuning struct {
	// PriorityBoost is added to a rule's priority for catalog optimized events.
	PriorityBoost int
	// CatalogModulus relates a campaign id to a rule's conversion value.
	CatalogModulus int64
}

// DefaultTuning returns boost 32 and modulus 8.
func DefaultTuning() Tuning {
	return Tuning{PriorityBoost: 32, CatalogModulus: 8}
}
