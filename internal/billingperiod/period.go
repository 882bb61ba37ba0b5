// Package billingperiod maps a billing anchor day onto (year, month) usage
// buckets. A subscription anchored on day N attributes the days before N to
// the previous calendar month's bucket.
package billingperiod

import "time"

// Compute returns the (year, month) bucket the instant now falls into
// relative to the anchor day-of-month. A nil or out-of-range anchor falls
// back to plain calendar-month bucketing. Valid anchors are 1-28 so every
// month contains the anchor day.
func Compute(now time.Time, anchor *int) (int, int) {
	now = now.UTC()
	year, month := now.Year(), int(now.Month())

	if anchor == nil || *anchor < 1 || *anchor > 28 {
		return year, month
	}

	if now.Day() < *anchor {
		month--
		if month < 1 {
			month = 12
			year--
		}
	}

	return year, month
}
