package presence

import (
	"fmt"
	"time"
)

// DefaultActivityThreshold is the recency cutoff between tracking and lost.
// The cutoff is applied in wall-clock seconds against the store-side
// last-seen timestamp; the firmware's own seen_ms counter is deliberately
// not mixed in.
const DefaultActivityThreshold = 2 * time.Second

// ActivityStatus is the derived activity classification for one device.
type ActivityStatus struct {
	Tracking bool
	Age      time.Duration
}

// Classify derives the activity status from the last-seen timestamp.
func Classify(lastSeen, now time.Time, threshold time.Duration) ActivityStatus {
	if threshold <= 0 {
		threshold = DefaultActivityThreshold
	}
	age := now.Sub(lastSeen)
	return ActivityStatus{
		Tracking: age < threshold,
		Age:      age,
	}
}

// Label renders the status the way the device table shows it.
func (s ActivityStatus) Label() string {
	if s.Tracking {
		return "TRACKING"
	}
	return fmt.Sprintf("LOST %.1fs", s.Age.Seconds())
}
