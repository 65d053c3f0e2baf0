// Package policy holds the posting policy: the configurable predicate
// deciding whether a normalized alert is worth forwarding to the sink.
package policy

import (
	"github.com/rassi0429/eew4reso/internal/domain"
)

// Drop reasons returned by ShouldDeliver. The values are stable: they
// feed both log fields and the dropped-alerts metric label.
const (
	ReasonCancellationExcluded = "cancellation_excluded"
	ReasonNotWarning           = "not_warning"
	ReasonBelowMinSeverity     = "below_min_severity"
	ReasonBelowMinMagnitude    = "below_min_magnitude"
	ReasonExceedsMaxDepth      = "exceeds_max_depth"
	ReasonNoAllowedRegion      = "no_allowed_region"
	ReasonBlockedRegion        = "blocked_region"
	ReasonInsignificantUpdate  = "insignificant_update"
)

// Policy is the process-lifetime posting configuration. Zero values
// disable the optional bounds: MinMagnitude and MaxDepth of 0 skip
// their checks, and empty region sets skip the allow/block lists.
type Policy struct {
	MinSeverity          float64
	OnlyWarnings         bool
	IncludeCancellations bool
	MinMagnitude         float64
	MaxDepth             float64
	AllowedRegions       map[string]struct{}
	BlockedRegions       map[string]struct{}
}

// ShouldDeliver evaluates an alert against the policy and the last
// delivered alert, returning the verdict and a stable drop reason
// (empty on deliver). The earthquake-specific bounds and the region
// lists only apply when the alert carries an earthquake sub-object;
// a bare cancellation is judged on the remaining checks alone. Pure
// predicate: neither argument is mutated.
func (p Policy) ShouldDeliver(a domain.Alert, lastDelivered *domain.Alert) (bool, string) {
	if a.Canceled && !p.IncludeCancellations {
		return false, ReasonCancellationExcluded
	}
	if p.OnlyWarnings && !a.Warning && !a.Canceled {
		return false, ReasonNotWarning
	}
	if domain.Score(a) < p.MinSeverity {
		return false, ReasonBelowMinSeverity
	}
	if a.Earthquake != nil {
		if p.MinMagnitude > 0 && a.Earthquake.Magnitude != nil && *a.Earthquake.Magnitude < p.MinMagnitude {
			return false, ReasonBelowMinMagnitude
		}
		if p.MaxDepth > 0 && a.Earthquake.Depth != nil && *a.Earthquake.Depth > p.MaxDepth {
			return false, ReasonExceedsMaxDepth
		}
		if len(p.AllowedRegions) > 0 && !anyMember(a.RegionCodes, p.AllowedRegions) {
			return false, ReasonNoAllowedRegion
		}
		if len(p.BlockedRegions) > 0 && anyMember(a.RegionCodes, p.BlockedRegions) {
			return false, ReasonBlockedRegion
		}
	}
	if lastDelivered != nil && !domain.IsSignificant(a, lastDelivered) {
		return false, ReasonInsignificantUpdate
	}
	return true, ""
}

// RegionSet builds a membership set from region codes, dropping empties.
func RegionSet(codes []string) map[string]struct{} {
	if len(codes) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		set[c] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func anyMember(codes []string, set map[string]struct{}) bool {
	for _, c := range codes {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}
