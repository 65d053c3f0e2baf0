package domain

import "math"

// magnitudeDelta is the smallest magnitude revision considered worth
// re-notifying about.
const magnitudeDelta = 0.2

// IsSignificant reports whether current changed meaningfully relative
// to the previously delivered alert. With no previous alert every
// update is significant. Otherwise any of the following makes it so:
// the canceled or warning flag flipped, the magnitude moved by at
// least 0.2 (only compared when both reports carry one), either bound
// of the intensity forecast changed, or a region is warned now that
// was not warned before. Pure function over two snapshots.
func IsSignificant(current Alert, previous *Alert) bool {
	if previous == nil {
		return true
	}
	if current.Canceled != previous.Canceled {
		return true
	}
	if current.Warning != previous.Warning {
		return true
	}
	if cm, ok := reportedMagnitude(current); ok {
		if pm, ok := reportedMagnitude(*previous); ok && math.Abs(cm-pm) >= magnitudeDelta {
			return true
		}
	}
	if current.MaxIntensity != previous.MaxIntensity {
		return true
	}
	warned := previous.WarnedRegionCodes()
	for _, r := range current.WarningRegions {
		if _, ok := warned[r.Code]; !ok {
			return true
		}
	}
	return false
}

func reportedMagnitude(a Alert) (float64, bool) {
	if a.Earthquake == nil || a.Earthquake.Magnitude == nil {
		return 0, false
	}
	return *a.Earthquake.Magnitude, true
}
