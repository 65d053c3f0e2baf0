package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// Sentinel kinds for rejected inbound payloads. Callers classify a
// normalization failure with errors.Is against one of these.
var (
	ErrParse             = errors.New("malformed payload")
	ErrValidation        = errors.New("payload failed validation")
	ErrUnsupportedFormat = errors.New("unsupported payload format")
)

// NormalizationError is the result type for a payload the normalizer
// rejected. Kind is always one of the sentinel errors above; Err holds
// the underlying decode error when there is one.
type NormalizationError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *NormalizationError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NormalizationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind labels a normalization failure for logs and metric labels:
// "parse", "validation", "unsupported", or "other".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported"
	default:
		return "other"
	}
}

func parseErr(detail string, err error) error {
	return &NormalizationError{Kind: ErrParse, Detail: detail, Err: err}
}

func validationErr(detail string, err error) error {
	return &NormalizationError{Kind: ErrValidation, Detail: detail, Err: err}
}

func unsupportedErr(detail string) error {
	return &NormalizationError{Kind: ErrUnsupportedFormat, Detail: detail}
}

// jst is the zone compact-report timestamps are expressed in. The feed
// carries no offset, only "20060102150405" digits.
var jst = time.FixedZone("JST", 9*60*60)

// Normalize parses one raw feed payload into the canonical Alert.
// Three encodings are recognized, dispatched on explicit discriminators
// rather than by trying each parser in turn:
//
//   - direct: a {type, timestamp, data} envelope whose data field is the
//     canonical payload object
//   - enveloped: the same envelope, but data is a JSON-encoded string
//     that re-parses to either a {_schema, body} wrapper or the payload
//     itself
//   - compact: a flattened kmoni-style report discriminated by its
//     report_id field
//
// Rejections carry one of ErrParse, ErrValidation, or
// ErrUnsupportedFormat and are never fatal to batch callers.
func Normalize(raw []byte) (Alert, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		if !json.Valid(raw) {
			return Alert{}, parseErr("decode payload", err)
		}
		return Alert{}, unsupportedErr("payload is not a JSON object")
	}

	var (
		a   Alert
		err error
	)
	typeRaw, hasType := fields["type"]
	_, hasReportID := fields["report_id"]
	switch {
	case hasType:
		a, err = decodeEnvelope(fields, typeRaw)
	case hasReportID:
		a, err = decodeCompactReport(raw)
	default:
		return Alert{}, unsupportedErr("no recognized format discriminator")
	}
	if err != nil {
		return Alert{}, err
	}

	a.RawPayload = raw
	a.ReceivedAt = clock.Now()
	return a, nil
}

// DetectEncoding classifies a payload by its discriminators without
// validating it: "direct", "enveloped", "compact", or "unknown". Used
// for metric labels; Normalize performs its own dispatch.
func DetectEncoding(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "unknown"
	}
	if _, ok := fields["type"]; ok {
		switch firstJSONByte(fields["data"]) {
		case '{':
			return "direct"
		case '"':
			return "enveloped"
		}
		return "unknown"
	}
	if _, ok := fields["report_id"]; ok {
		return "compact"
	}
	return "unknown"
}

// decodeEnvelope handles the direct and enveloped encodings, which share
// the outer {type, timestamp, data} shape and differ only in the JSON
// kind of data.
func decodeEnvelope(fields map[string]json.RawMessage, typeRaw json.RawMessage) (Alert, error) {
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return Alert{}, validationErr("type tag is not a string", err)
	}
	if typ != "eew" {
		return Alert{}, unsupportedErr(fmt.Sprintf("unrecognized type tag %q", typ))
	}

	tsRaw, ok := fields["timestamp"]
	if !ok {
		return Alert{}, validationErr("missing timestamp", nil)
	}
	var ts string
	if err := json.Unmarshal(tsRaw, &ts); err != nil {
		return Alert{}, validationErr("timestamp is not a string", err)
	}
	if strings.TrimSpace(ts) == "" {
		return Alert{}, validationErr("empty timestamp", nil)
	}

	dataRaw, ok := fields["data"]
	if !ok {
		return Alert{}, validationErr("missing data", nil)
	}

	switch firstJSONByte(dataRaw) {
	case '{':
		return decodeCanonicalPayload(dataRaw)
	case '"':
		return decodeEnvelopedString(dataRaw)
	default:
		return Alert{}, validationErr("data is neither an object nor a string", nil)
	}
}

// decodeEnvelopedString unwraps the enveloped encoding: data is a
// JSON-encoded string carrying either a {_schema, body} wrapper or the
// canonical payload directly.
func decodeEnvelopedString(dataRaw json.RawMessage) (Alert, error) {
	var inner string
	if err := json.Unmarshal(dataRaw, &inner); err != nil {
		return Alert{}, validationErr("decode data string", err)
	}

	var innerFields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(inner), &innerFields); err != nil {
		if !json.Valid([]byte(inner)) {
			return Alert{}, parseErr("re-parse enveloped data", err)
		}
		return Alert{}, validationErr("enveloped data is not a JSON object", err)
	}

	payload := json.RawMessage(inner)
	if _, hasSchema := innerFields["_schema"]; hasSchema {
		if body, hasBody := innerFields["body"]; hasBody {
			payload = body
		}
	}
	return decodeCanonicalPayload(payload)
}

// Wire shapes for the canonical payload carried by the direct and
// enveloped encodings. Intensities stay strings here so a bad value is
// reported as a validation failure, not a JSON type error.
type wirePayload struct {
	IsFinal      bool                `json:"isFinal"`
	IsCancel     bool                `json:"isCancel"`
	IsWarning    bool                `json:"isWarning"`
	Earthquake   *wireEarthquake     `json:"earthquake"`
	MaxIntensity *wireIntensityRange `json:"maxIntensity"`
	Regions      []wireRegion        `json:"regions"`
	RegionCodes  []string            `json:"regionCodes"`
	Text         string              `json:"text"`
}

type wireEarthquake struct {
	OriginTime string          `json:"originTime"`
	Magnitude  *float64        `json:"magnitude"`
	Depth      *float64        `json:"depth"`
	Hypocenter *wireHypocenter `json:"hypocenter"`
}

type wireHypocenter struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	LandOrSea string  `json:"landOrSea"`
}

type wireIntensityRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type wireRegion struct {
	Code      string              `json:"code"`
	Name      string              `json:"name"`
	Intensity *wireIntensityRange `json:"intensity"`
	Condition string              `json:"condition"`
}

func decodeCanonicalPayload(payloadRaw []byte) (Alert, error) {
	var p wirePayload
	if err := json.Unmarshal(payloadRaw, &p); err != nil {
		return Alert{}, validationErr("decode alert payload", err)
	}

	a := Alert{
		Final:    p.IsFinal,
		Canceled: p.IsCancel,
		Warning:  p.IsWarning,
		FreeText: p.Text,
	}

	if p.Earthquake != nil {
		eq, err := convertEarthquake(p.Earthquake)
		if err != nil {
			return Alert{}, err
		}
		a.Earthquake = eq
	}

	if p.MaxIntensity != nil {
		r, err := convertIntensityRange(*p.MaxIntensity)
		if err != nil {
			return Alert{}, err
		}
		a.MaxIntensity = r
	}

	codes := make([]string, 0, len(p.Regions))
	for _, wr := range p.Regions {
		region := WarningRegion{Code: wr.Code, Name: wr.Name, Condition: wr.Condition}
		if wr.Intensity != nil {
			r, err := convertIntensityRange(*wr.Intensity)
			if err != nil {
				return Alert{}, err
			}
			region.Intensity = r
		}
		a.WarningRegions = append(a.WarningRegions, region)
		codes = append(codes, wr.Code)
	}

	if len(p.RegionCodes) > 0 {
		a.RegionCodes = uniqueCodes(p.RegionCodes)
	} else {
		a.RegionCodes = uniqueCodes(codes)
	}

	return a, nil
}

func convertEarthquake(w *wireEarthquake) (*Earthquake, error) {
	eq := &Earthquake{Magnitude: w.Magnitude, Depth: w.Depth}

	if s := strings.TrimSpace(w.OriginTime); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, validationErr("parse origin time", err)
		}
		eq.OriginTime = t
	}
	if w.Magnitude != nil && *w.Magnitude < 0 {
		return nil, validationErr("magnitude must be non-negative", nil)
	}
	if w.Depth != nil && *w.Depth < 0 {
		return nil, validationErr("depth must be non-negative", nil)
	}

	if w.Hypocenter != nil {
		los, err := parseLandOrSea(w.Hypocenter.LandOrSea)
		if err != nil {
			return nil, validationErr("parse hypocenter", err)
		}
		eq.Epicenter = &Epicenter{
			Name:      w.Hypocenter.Name,
			Latitude:  w.Hypocenter.Latitude,
			Longitude: w.Hypocenter.Longitude,
			LandOrSea: los,
		}
	}
	return eq, nil
}

func convertIntensityRange(w wireIntensityRange) (IntensityRange, error) {
	from, err := ParseIntensity(w.From)
	if err != nil {
		return IntensityRange{}, validationErr("parse intensity", err)
	}
	to, err := ParseIntensity(w.To)
	if err != nil {
		return IntensityRange{}, validationErr("parse intensity", err)
	}
	return IntensityRange{From: from, To: to}, nil
}

// compactReport is the kmoni-style flattened shape. Every field arrives
// as a string, booleans included; "magunitude" preserves the upstream
// feed's own spelling.
type compactReport struct {
	ReportID      string `json:"report_id"`
	ReportNum     string `json:"report_num"`
	CalcIntensity string `json:"calcintensity"`
	Magnitude     string `json:"magunitude"`
	Depth         string `json:"depth"`
	Latitude      string `json:"latitude"`
	Longitude     string `json:"longitude"`
	RegionCode    string `json:"region_code"`
	RegionName    string `json:"region_name"`
	OriginTime    string `json:"origin_time"`
	IsFinal       string `json:"is_final"`
	IsCancel      string `json:"is_cancel"`
	IsTraining    string `json:"is_training"`
	AlertFlag     string `json:"alertflg"`
}

func decodeCompactReport(raw []byte) (Alert, error) {
	var rec compactReport
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Alert{}, validationErr("decode compact report", err)
	}

	final, err := parseWireBool(rec.IsFinal)
	if err != nil {
		return Alert{}, validationErr("parse is_final", err)
	}
	canceled, err := parseWireBool(rec.IsCancel)
	if err != nil {
		return Alert{}, validationErr("parse is_cancel", err)
	}
	if _, err := parseWireBool(rec.IsTraining); err != nil {
		return Alert{}, validationErr("parse is_training", err)
	}
	warning, err := parseAlertFlag(rec.AlertFlag)
	if err != nil {
		return Alert{}, err
	}

	intensity, err := parseCompactIntensity(rec.CalcIntensity)
	if err != nil {
		return Alert{}, err
	}

	a := Alert{
		Final:        final,
		Canceled:     canceled,
		Warning:      warning,
		MaxIntensity: IntensityRange{From: intensity, To: intensity},
	}

	if hasEarthquakeFields(rec) {
		eq := &Earthquake{}
		if eq.Magnitude, err = parseCompactFloat(rec.Magnitude, "magunitude"); err != nil {
			return Alert{}, err
		}
		if eq.Depth, err = parseCompactDepth(rec.Depth); err != nil {
			return Alert{}, err
		}
		if s := strings.TrimSpace(rec.OriginTime); s != "" {
			t, perr := time.ParseInLocation("20060102150405", width.Fold.String(s), jst)
			if perr != nil {
				return Alert{}, validationErr("parse origin_time", perr)
			}
			eq.OriginTime = t
		}
		// Coordinates are zero-filled when missing or unparseable so
		// downstream numeric code never sees an undefined value. A
		// (0,0) epicenter is therefore ambiguous with a real null
		// island location; the feed never reports one.
		eq.Epicenter = &Epicenter{
			Name:      rec.RegionName,
			Latitude:  parseFloatOrZero(rec.Latitude),
			Longitude: parseFloatOrZero(rec.Longitude),
		}
		a.Earthquake = eq
	}

	if rec.RegionCode != "" {
		a.RegionCodes = []string{rec.RegionCode}
	}
	if warning && (rec.RegionCode != "" || rec.RegionName != "") {
		a.WarningRegions = []WarningRegion{{
			Code:      rec.RegionCode,
			Name:      rec.RegionName,
			Intensity: a.MaxIntensity,
		}}
	}

	return a, nil
}

// hasEarthquakeFields reports whether the compact record carries any
// physical parameters. A bare cancellation carries none, and its
// canonical form has no earthquake sub-object.
func hasEarthquakeFields(rec compactReport) bool {
	for _, s := range []string{rec.Magnitude, rec.Depth, rec.OriginTime, rec.RegionName, rec.Latitude, rec.Longitude} {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// parseWireBool parses the feed's string-typed booleans. Empty means
// false; anything strconv.ParseBool rejects is a validation failure.
func parseWireBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(strings.ToLower(s))
}

// parseAlertFlag maps the 警報/予報 flag to the warning bit.
func parseAlertFlag(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "", "予報":
		return false, nil
	case "警報":
		return true, nil
	}
	return false, validationErr(fmt.Sprintf("unrecognized alertflg %q", s), nil)
}

// parseCompactIntensity maps calcintensity to an IntensityCode. "不明"
// and empty map to unknown; any other unrecognized string is rejected.
func parseCompactIntensity(s string) (IntensityCode, error) {
	c, err := ParseIntensity(s)
	if err != nil {
		return IntensityUnknown, validationErr("parse calcintensity", err)
	}
	return c, nil
}

// parseCompactFloat parses an optional numeric string field, folding
// full-width digits first. Empty and "不明" mean unreported.
func parseCompactFloat(s, field string) (*float64, error) {
	s = width.Fold.String(strings.TrimSpace(s))
	if s == "" || s == "不明" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, validationErr("parse "+field, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil, validationErr(field+" must be a finite non-negative number", nil)
	}
	return &v, nil
}

// parseCompactDepth parses the "30km" depth convention.
func parseCompactDepth(s string) (*float64, error) {
	s = width.Fold.String(strings.TrimSpace(s))
	s = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "km"))
	if s == "" || s == "不明" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, validationErr("parse depth", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil, validationErr("depth must be a finite non-negative number", nil)
	}
	return &v, nil
}

// parseFloatOrZero parses a coordinate string, returning the zero
// sentinel on any failure.
func parseFloatOrZero(s string) float64 {
	s = width.Fold.String(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func parseLandOrSea(s string) (LandOrSea, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "land":
		return Land, nil
	case "sea":
		return Sea, nil
	}
	return Land, fmt.Errorf("unrecognized landOrSea %q", s)
}

// uniqueCodes drops empty and duplicate region codes while preserving
// first-seen order.
func uniqueCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// firstJSONByte returns the first non-whitespace byte of a raw JSON
// value, or 0 when there is none.
func firstJSONByte(raw json.RawMessage) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
