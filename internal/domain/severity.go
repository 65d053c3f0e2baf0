package domain

// Score maps an alert to its ordered severity value. A canceled alert
// scores exactly 0 no matter what else it carries. Otherwise the upper
// bound of the intensity forecast dominates (weight times ten) and
// magnitude breaks ties between alerts of equal intensity, so "5- at
// M5.7" scores 55.7. Unreported intensity and magnitude both count as
// zero. Pure and total: identical inputs always score identically.
func Score(a Alert) float64 {
	if a.Canceled {
		return 0
	}
	var magnitude float64
	if a.Earthquake != nil && a.Earthquake.Magnitude != nil {
		magnitude = *a.Earthquake.Magnitude
	}
	return a.MaxIntensity.To.Weight()*10 + magnitude
}
