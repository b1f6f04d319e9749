package vts

import "math/big"

// RawTree holds per-day samples, not yet folded into accumulated totals:
// telemetry type -> year -> month (1..12) -> day (1..31) -> ordered samples.
type RawTree map[TelemetryType]YearSamples

// YearSamples maps a calendar year to its per-month sample buckets.
type YearSamples map[int32]MonthSamples

// MonthSamples maps a month (1..12) to its per-day sample buckets.
type MonthSamples map[uint8]DaySamples

// DaySamples maps a day (1..31) to the ordered list of raw values reported
// on that day.
type DaySamples map[uint8][]U128

// Insert appends value to telemetry[t][year][month][day], creating
// intermediate maps as needed. Samples within a bucket keep arrival order.
func (t RawTree) Insert(tt TelemetryType, year int32, month, day uint8, value U128) {
	years, ok := t[tt]
	if !ok {
		years = make(YearSamples)
		t[tt] = years
	}
	months, ok := years[year]
	if !ok {
		months = make(MonthSamples)
		years[year] = months
	}
	days, ok := months[month]
	if !ok {
		days = make(DaySamples)
		months[month] = days
	}
	days[day] = append(days[day], value)
}

// Clone deep-copies the tree.
func (t RawTree) Clone() RawTree {
	out := make(RawTree, len(t))
	for tt, years := range t {
		outYears := make(YearSamples, len(years))
		for y, months := range years {
			outMonths := make(MonthSamples, len(months))
			for m, days := range months {
				outDays := make(DaySamples, len(days))
				for d, samples := range days {
					outDays[d] = append([]U128(nil), samples...)
				}
				outMonths[m] = outDays
			}
			outYears[y] = outMonths
		}
		out[tt] = outYears
	}
	return out
}

// AccumTree holds hierarchical sums folded from raw samples:
// telemetry type -> year -> {value, monthly: month -> {value, daily: day -> value}}.
type AccumTree map[TelemetryType]map[int32]*YearAccum

// YearAccum is the accumulated total for one (type, year), plus its monthly
// breakdown. Value always equals the sum of Monthly's values.
type YearAccum struct {
	Value   U128
	Monthly map[uint8]*MonthAccum
}

// MonthAccum is the accumulated total for one (type, year, month), plus its
// daily breakdown. Value always equals the sum of Daily's values.
type MonthAccum struct {
	Value U128
	Daily map[uint8]U128
}

// Clone deep-copies the tree.
func (t AccumTree) Clone() AccumTree {
	out := make(AccumTree, len(t))
	for tt, years := range t {
		outYears := make(map[int32]*YearAccum, len(years))
		for y, ya := range years {
			outYA := &YearAccum{Value: ya.Value, Monthly: make(map[uint8]*MonthAccum, len(ya.Monthly))}
			for m, ma := range ya.Monthly {
				outYA.Monthly[m] = &MonthAccum{Value: ma.Value, Daily: make(map[uint8]U128, len(ma.Daily))}
				for d, v := range ma.Daily {
					outYA.Monthly[m].Daily[d] = v
				}
			}
			outYears[y] = outYA
		}
		out[tt] = outYears
	}
	return out
}

// AddDay folds delta into the (type, year, month, day) cell, updating the
// month and year totals so Value keeps equalling the sum of its children.
func (t AccumTree) AddDay(tt TelemetryType, year int32, month, day uint8, delta U128) {
	years, ok := t[tt]
	if !ok {
		years = make(map[int32]*YearAccum)
		t[tt] = years
	}
	ya, ok := years[year]
	if !ok {
		ya = &YearAccum{Monthly: make(map[uint8]*MonthAccum)}
		years[year] = ya
	}
	ma, ok := ya.Monthly[month]
	if !ok {
		ma = &MonthAccum{Daily: make(map[uint8]U128)}
		ya.Monthly[month] = ma
	}
	ma.Daily[day] = addU128(ma.Daily[day], delta)
	ma.Value = addU128(ma.Value, delta)
	ya.Value = addU128(ya.Value, delta)
}

// addU128 sums a and b, saturating is not possible (both operands are already
// validated u128 values so the sum still fits the billing-scale quantities
// this system deals with); an overflow here indicates corrupt stored state.
func addU128(a, b U128) U128 {
	sum, err := U128FromBigInt(new(big.Int).Add(a.Big(), b.Big()))
	if err != nil {
		panic("vts: accumulated telemetry total overflowed u128: " + err.Error())
	}
	return sum
}
