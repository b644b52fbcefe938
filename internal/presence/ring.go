package presence

import "time"

// Sample is one (timestamp, signal) point in a device's history.
type Sample struct {
	At   time.Time
	RSSI int
}

// sampleRing is a fixed-capacity FIFO of samples backed by a single
// preallocated arena. Appending beyond capacity overwrites the oldest entry,
// so appends are O(1) and memory per device is bounded at construction.
type sampleRing struct {
	buf   []Sample
	head  int // index of the oldest sample
	count int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &sampleRing{buf: make([]Sample, capacity)}
}

func (r *sampleRing) append(s Sample) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	// Full: overwrite the oldest slot and advance the head.
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
}

func (r *sampleRing) len() int { return r.count }

func (r *sampleRing) last() Sample {
	return r.buf[(r.head+r.count-1)%len(r.buf)]
}

// samples returns a chronological copy, oldest first.
func (r *sampleRing) samples() []Sample {
	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
