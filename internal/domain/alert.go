package domain

import (
	"context"
	"time"
)

// RawInbound represents an unprocessed feed payload before normalization.
// HTTP ingest fills only Value; the Kafka source also carries topic
// coordinates and a Commit callback for offset management.
type RawInbound struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// LandOrSea tags an epicenter as inland or offshore.
type LandOrSea int

const (
	Land LandOrSea = iota
	Sea
)

func (l LandOrSea) String() string {
	if l == Sea {
		return "sea"
	}
	return "land"
}

// MarshalJSON emits the lowercase name rather than the enum ordinal.
func (l LandOrSea) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// Epicenter locates the estimated hypocenter origin on the surface.
type Epicenter struct {
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	LandOrSea LandOrSea `json:"land_or_sea"`
}

// Earthquake holds the physical estimate attached to an alert. Magnitude
// and Depth are pointers because early reports frequently omit them, and
// "absent" must stay distinct from a literal zero.
type Earthquake struct {
	OriginTime time.Time  `json:"origin_time"`
	Magnitude  *float64   `json:"magnitude,omitempty"`
	Depth      *float64   `json:"depth_km,omitempty"`
	Epicenter  *Epicenter `json:"epicenter,omitempty"`
}

// WarningRegion is one region named by a warning-grade report, with the
// intensity forecast for that region.
type WarningRegion struct {
	Code      string         `json:"code"`
	Name      string         `json:"name"`
	Intensity IntensityRange `json:"intensity"`
	Condition string         `json:"condition,omitempty"`
}

// Alert is the canonical representation every feed encoding normalizes
// into. Everything downstream (scoring, policy, rendering, delivery)
// consumes this shape and never sees the wire formats.
type Alert struct {
	Final          bool            `json:"final"`
	Canceled       bool            `json:"canceled"`
	Warning        bool            `json:"warning"`
	Earthquake     *Earthquake     `json:"earthquake,omitempty"`
	MaxIntensity   IntensityRange  `json:"max_intensity"`
	WarningRegions []WarningRegion `json:"warning_regions,omitempty"`
	RegionCodes    []string        `json:"region_codes,omitempty"`
	FreeText       string          `json:"free_text,omitempty"`

	RawPayload []byte    `json:"-"`
	ReceivedAt time.Time `json:"received_at"`
}

// WarnedRegionCodes returns the set of region codes carried by the
// warning-region list. Update comparison keys off this set.
func (a Alert) WarnedRegionCodes() map[string]struct{} {
	if len(a.WarningRegions) == 0 {
		return nil
	}
	codes := make(map[string]struct{}, len(a.WarningRegions))
	for _, r := range a.WarningRegions {
		codes[r.Code] = struct{}{}
	}
	return codes
}
