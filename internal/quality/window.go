package quality

// Window is a fixed-capacity FIFO of latencies. Pushing into a full window
// evicts the oldest entry.
type Window struct {
	buf   []float64
	start int
	n     int
}

// NewWindow creates a window holding at most capacity entries.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (w *Window) Push(v float64) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of values held.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window has reached capacity.
func (w *Window) Full() bool { return w.n == len(w.buf) }

// Values copies the window contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.start = 0
	w.n = 0
}
