// Package quota holds the pure admission logic shared by the read-only
// check path and the atomic adjust path.
package quota

import (
	meterdomain "github.com/evalhub/meterd/internal/meter/domain"
)

// Admit is the advisory admission decision for the read-only check path.
// It projects the increment onto the already-read value and compares the
// clamped result against the limit; a missing increment counts as zero.
// Strictness does not apply here, only the atomic adjust path
// distinguishes it.
func Admit(current int64, delta meterdomain.MeterDelta, q meterdomain.Quota) bool {
	if q.Limit == nil {
		return true
	}

	var inc int64
	if delta.Inc != nil {
		inc = *delta.Inc
	}
	return clamp(current+inc) <= *q.Limit
}

// PredicateFor builds the store-level admission condition. The store
// re-evaluates it against the row's value at commit time, not the value
// read earlier; a read-then-write check here would reintroduce the
// lost-update race.
func PredicateFor(delta meterdomain.MeterDelta, q meterdomain.Quota) (meterdomain.Predicate, error) {
	if q.Limit == nil {
		return meterdomain.Predicate{Kind: meterdomain.PredicateAlways}, nil
	}

	if q.Strict {
		if delta.Inc == nil && delta.Set == nil {
			return meterdomain.Predicate{}, meterdomain.ErrMissingDelta
		}
		return meterdomain.Predicate{Kind: meterdomain.PredicateStrict, Limit: *q.Limit}, nil
	}

	return meterdomain.Predicate{Kind: meterdomain.PredicateSoft, Limit: *q.Limit}, nil
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
