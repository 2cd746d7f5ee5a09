package threatpipeline

import "time"

// searchWindowOverlap is subtracted from lastSearched to avoid missing
// events that land exactly on the prior tick's boundary, per §4.6 step 1.
const searchWindowOverlap = 5 * time.Minute

// fallbackWindow is used when a monitor has never run a successful tick.
const fallbackWindow = 1 * time.Hour

// computeWindow returns the [from, to] search window for a tick. to is
// always now; from is lastSearched-5min, or now-1h if lastSearched is nil.
func computeWindow(lastSearched *time.Time, now time.Time) (from, to time.Time) {
	if lastSearched == nil {
		return now.Add(-fallbackWindow), now
	}
	return lastSearched.Add(-searchWindowOverlap), now
}
