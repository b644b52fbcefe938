package engine

import "sync"

// tailCap bounds the raw-line tail so console chatter from the firmware
// cannot grow without limit.
const tailCap = 100

// tailRing keeps the most recent raw (non-report) lines from the module for
// terminal echo. Safe for concurrent use.
type tailRing struct {
	mu    sync.Mutex
	buf   []string
	head  int
	count int
}

func newTailRing() *tailRing {
	return &tailRing{buf: make([]string, tailCap)}
}

func (t *tailRing) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[(t.head+t.count)%len(t.buf)] = line
	if t.count < len(t.buf) {
		t.count++
	} else {
		t.head = (t.head + 1) % len(t.buf)
	}
}

// lines returns the retained tail, oldest first.
func (t *tailRing) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.buf[(t.head+i)%len(t.buf)]
	}
	return out
}

func (t *tailRing) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.head = 0
	t.count = 0
}
