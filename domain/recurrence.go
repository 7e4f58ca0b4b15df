package domain

import "time"

// NextDueDate returns the deadline of the instance following one due at
// current. Month based frequencies keep the day of month and clamp it to the
// last day when the target month is shorter. Non recurring frequencies return
// current unchanged.
func NextDueDate(current time.Time, f Frequency) time.Time {
	switch f {
	case FrequencyDaily:
		return current.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return current.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return addMonths(current, 1)
	case FrequencyQuarterly:
		return addMonths(current, 3)
	case FrequencyYearly:
		return addMonths(current, 12)
	}
	return current
}

// addMonths adds n calendar months without the overflow normalisation of
// time.AddDate (Jan 31 + 1 month is Feb 28/29, not Mar 2/3).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
