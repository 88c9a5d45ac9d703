// Package domain models monthly satellite vegetation observations.
//
// # Region identity
//
// Every stored observation is keyed by a RegionID derived from the request
// coordinates truncated to three decimal places (~111 m at the equator):
//
//	"52.520_13.405"
//
// Two coordinate pairs that round to the same three-decimal value map to the
// same RegionID, which is the spatial deduplication granularity of the whole
// warehouse. Rounding follows strconv's 'f' formatting, i.e. round half to
// even; the rule matters because it defines bucket boundaries and must never
// change once data has been written. A RegionID is never recomputed for a
// stored record.
//
// # Month arithmetic
//
// MonthKey is the canonical (year, month) value used for gap detection. Its
// string form "YYYY-MM" sorts lexically in chronological order, which the
// warehouse relies on when querying the latest recorded month for a region.
// Gap-filling enumerates every month strictly after the latest recorded month
// up to and including the current month; when no history exists, the bootstrap
// window covers the last six calendar months instead.
//
// # Quality scoring
//
// Each monthly observation aggregates up to three low-cloud Sentinel-2 scenes
// into NDVI statistics and carries a quality tier computed by a fixed additive
// rule over image count, mean cloud cover, and NDVI standard deviation:
//
//	images:  >=3 -> 40 | ==2 -> 25 | ==1 -> 10
//	clouds:  <10% -> 40 | <20% -> 25 | else -> 10
//	stddev:  <0.05 -> 20 | <0.10 -> 10 | else -> 5
//
// The total (max 100) maps to a tier: >=80 excellent, >=60 good, >=40 fair,
// else poor. The weights are load-bearing constants; downstream analytics
// filter on the tiers.
package domain
