package audio

// sampleRing is a fixed-capacity FIFO of samples. When full, the oldest
// samples are overwritten.
type sampleRing struct {
	buf     []int16
	start   int
	size    int
	dropped int
}

func newSampleRing(capacity int) *sampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &sampleRing{buf: make([]int16, capacity)}
}

func (r *sampleRing) Write(samples []int16) {
	capacity := len(r.buf)
	if len(samples) >= capacity {
		r.dropped += r.size + len(samples) - capacity
		copy(r.buf, samples[len(samples)-capacity:])
		r.start = 0
		r.size = capacity
		return
	}
	for _, s := range samples {
		end := (r.start + r.size) % capacity
		r.buf[end] = s
		if r.size == capacity {
			r.start = (r.start + 1) % capacity
			r.dropped++
			continue
		}
		r.size++
	}
}

// Snapshot copies the buffered samples in arrival order.
func (r *sampleRing) Snapshot() []int16 {
	out := make([]int16, r.size)
	first := copy(out, r.buf[r.start:min(r.start+r.size, len(r.buf))])
	copy(out[first:], r.buf[:r.size-first])
	return out
}

func (r *sampleRing) Len() int { return r.size }

func (r *sampleRing) Dropped() int { return r.dropped }

func (r *sampleRing) Reset() {
	r.start = 0
	r.size = 0
	r.dropped = 0
}
