package indicators

import "time"

// VWAP is a session-cumulative volume-weighted average price. It resets
// automatically at the first bar of a new trading day, where "day" is
// evaluated in the given location — every symbol a strategy tracks should
// share the same location so their sessions roll over in lockstep.
type VWAP struct {
	loc *time.Location

	currentDay      string
	cumTPV          float64 // Σ(typicalPrice · volume)
	cumVolume       float64
	ready           bool
}

// NewVWAP creates a session VWAP whose trading day is evaluated in loc.
func NewVWAP(loc *time.Location) *VWAP {
	return &VWAP{loc: loc}
}

func dayKey(ts time.Time, loc *time.Location) string {
	return ts.In(loc).Format("2006-01-02")
}

// UpdateOHLCV folds one bar into the running VWAP, resetting first if ts
// falls on a new trading day.
func (v *VWAP) UpdateOHLCV(ts time.Time, high, low, close, volume float64) {
	day := dayKey(ts, v.loc)
	if day != v.currentDay {
		v.resetSession(day)
	}

	typical := (high + low + close) / 3
	v.cumTPV += typical * volume
	v.cumVolume += volume
	if v.cumVolume > 0 {
		v.ready = true
	}
}

func (v *VWAP) resetSession(day string) {
	v.currentDay = day
	v.cumTPV = 0
	v.cumVolume = 0
	v.ready = false
}

// Value returns the current session VWAP. Meaningless before IsReady.
func (v *VWAP) Value() float64 {
	if v.cumVolume == 0 {
		return 0
	}
	return v.cumTPV / v.cumVolume
}

// IsReady reports whether at least one bar with nonzero volume has been
// seen this session.
func (v *VWAP) IsReady() bool { return v.ready }

// IsPriceAboveVWAP reports whether p is above the current VWAP.
func (v *VWAP) IsPriceAboveVWAP(p float64) bool {
	return p > v.Value()
}

// PriceDistanceFromVWAP returns the signed distance of p from VWAP, in
// percent of VWAP.
func (v *VWAP) PriceDistanceFromVWAP(p float64) float64 {
	vwap := v.Value()
	if vwap == 0 {
		return 0
	}
	return (p - vwap) / vwap * 100
}

// Reset clears all accumulated state, forcing a reseed on the next update
// regardless of day.
func (v *VWAP) Reset() {
	v.currentDay = ""
	v.cumTPV = 0
	v.cumVolume = 0
	v.ready = false
}
