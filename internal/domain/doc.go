// Package domain models earthquake early warning (EEW) reports and the
// logic that decides how urgent one is and whether an update changed
// anything worth re-announcing.
//
// # Feed Encodings
//
// Reports reach the service in three JSON encodings, all produced by
// upstream relays of the same warning feed:
//
//	direct:    {"type":"eew","timestamp":...,"data":{...}} where data is
//	           the canonical payload object.
//	enveloped: the same outer shape, but data is a JSON-encoded string.
//	           Once re-parsed it is either a {"_schema":...,"body":{...}}
//	           wrapper (relay v2) or the payload itself (relay v1).
//	compact:   a flattened kmoni-style report with no type tag,
//	           recognized by its report_id field. All values are strings,
//	           including booleans ("is_cancel":"false") and numbers
//	           ("magunitude":"5.1"; the misspelling is the feed's own).
//
// Dispatch is by explicit discriminator, never by trying one parser and
// falling back to the next. See [Normalize].
//
// # Intensity Scale
//
// Intensity uses the 8-step JMA scale: 2, 3, 4, 5弱, 5強, 6弱, 6強, 7.
// The canonical ASCII forms are "5-" (弱, minor) and "5+" (強, major).
// The compact feed writes localized forms, sometimes with full-width
// digits; [ParseIntensity] folds those before matching. "不明" means the
// report carried no estimate and maps to [IntensityUnknown].
//
// # Compact Feed Conventions
//
//	depth:       "30km" (unit suffix stripped; "不明"/"" = unreported)
//	origin_time: "20060102150405" digits in JST, no zone marker
//	alertflg:    "警報" = warning grade, "予報" = forecast grade
//	coordinates: missing or unparseable values are zero-filled, so a
//	             (0,0) epicenter is the documented "unknown location"
//	             sentinel. The feed never reports a real position there.
//
// # Severity and Significance
//
// [Score] orders alerts for threshold filtering: ten times the weight
// of the intensity forecast's upper bound plus the magnitude, with a
// canceled report pinned to exactly 0. Weights follow the scale order,
// major subgrades half a step above minor (5弱=5, 5強=5.5).
//
// [IsSignificant] compares an alert to the previously delivered one so
// repeated relays of an unchanged report do not repost: a flipped
// cancel or warning flag, a magnitude revision of 0.2 or more, any
// intensity bound change, or a newly warned region all count as
// significant.
package domain
