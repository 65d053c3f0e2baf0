package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"
)

// IntensityCode is one step of the eight-level seismic intensity scale
// used by EEW reports: 2, 3, 4, 5-, 5+, 6-, 6+, 7. Levels 5 and 6 split
// into a minor ("弱") and major ("強") subgrade. The zero value means
// the report carried no intensity estimate.
type IntensityCode int

const (
	IntensityUnknown IntensityCode = iota
	Intensity2
	Intensity3
	Intensity4
	Intensity5Lower
	Intensity5Upper
	Intensity6Lower
	Intensity6Upper
	Intensity7
)

var intensityNames = map[IntensityCode]string{
	Intensity2:      "2",
	Intensity3:      "3",
	Intensity4:      "4",
	Intensity5Lower: "5-",
	Intensity5Upper: "5+",
	Intensity6Lower: "6-",
	Intensity6Upper: "6+",
	Intensity7:      "7",
}

var intensityLabels = map[IntensityCode]string{
	Intensity2:      "2",
	Intensity3:      "3",
	Intensity4:      "4",
	Intensity5Lower: "5弱",
	Intensity5Upper: "5強",
	Intensity6Lower: "6弱",
	Intensity6Upper: "6強",
	Intensity7:      "7",
}

// Weights for severity scoring. The major subgrades sit half a step
// above their minor counterparts so ordering by weight matches the
// scale's own ordering.
var intensityWeights = map[IntensityCode]float64{
	Intensity2:      2,
	Intensity3:      3,
	Intensity4:      4,
	Intensity5Lower: 5,
	Intensity5Upper: 5.5,
	Intensity6Lower: 6,
	Intensity6Upper: 6.5,
	Intensity7:      7,
}

// String returns the canonical ASCII form ("5-", "6+"), or "unknown".
func (c IntensityCode) String() string {
	if s, ok := intensityNames[c]; ok {
		return s
	}
	return "unknown"
}

// Label returns the localized display form ("5弱", "6強"), or "不明".
func (c IntensityCode) Label() string {
	if s, ok := intensityLabels[c]; ok {
		return s
	}
	return "不明"
}

// Weight returns the scoring weight for this code. Unknown weighs 0.
func (c IntensityCode) Weight() float64 {
	return intensityWeights[c]
}

// MarshalJSON emits the canonical ASCII form rather than the enum ordinal.
func (c IntensityCode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// ParseIntensity maps a wire intensity string to its code. It accepts
// the canonical ASCII forms ("5-", "5+") and the localized suffix
// convention ("5弱", "5強"), folding full-width digits and signs to
// ASCII first. "不明" and the empty string map to IntensityUnknown.
func ParseIntensity(s string) (IntensityCode, error) {
	folded := width.Fold.String(strings.TrimSpace(s))
	switch folded {
	case "", "不明":
		return IntensityUnknown, nil
	case "2":
		return Intensity2, nil
	case "3":
		return Intensity3, nil
	case "4":
		return Intensity4, nil
	case "5-", "5弱":
		return Intensity5Lower, nil
	case "5+", "5強":
		return Intensity5Upper, nil
	case "6-", "6弱":
		return Intensity6Lower, nil
	case "6+", "6強":
		return Intensity6Upper, nil
	case "7":
		return Intensity7, nil
	}
	return IntensityUnknown, fmt.Errorf("unrecognized intensity %q", s)
}

// IntensityRange is a from/to intensity forecast. Single-point reports
// use the same code for both bounds; the zero value means no forecast.
type IntensityRange struct {
	From IntensityCode `json:"from"`
	To   IntensityCode `json:"to"`
}

// IsUnknown reports whether the range carries no intensity at all.
func (r IntensityRange) IsUnknown() bool {
	return r.From == IntensityUnknown && r.To == IntensityUnknown
}

// Label renders the range for display: a single label when the bounds
// coincide, "5弱〜6強" style otherwise.
func (r IntensityRange) Label() string {
	if r.From == r.To {
		return r.To.Label()
	}
	if r.From == IntensityUnknown {
		return r.To.Label()
	}
	return r.From.Label() + "〜" + r.To.Label()
}
