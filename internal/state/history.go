package state

// ring is a fixed-capacity FIFO buffer. Appending beyond capacity
// evicts the oldest entry in O(1).
type ring[T any] struct {
	buf   []T
	start int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

// append adds v as the newest entry, evicting the oldest when full.
func (r *ring[T]) append(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// snapshot returns the entries oldest-first as a fresh slice.
func (r *ring[T]) snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// latest returns the newest entry, or false when empty.
func (r *ring[T]) latest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}

func (r *ring[T]) len() int {
	return r.count
}
