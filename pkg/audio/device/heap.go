package device

// voice is one buffer scheduled on a [Timeline]. Samples are already in the
// timeline's format.
type voice struct {
	tl      *Timeline
	samples []int16
	start   int64 // first sample frame on the timeline clock
	pos     int   // next sample index to mix
	seq     uint64
	onEnded func()
	stopped bool
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	v.tl.mu.Lock()
	defer v.tl.mu.Unlock()
	v.stopped = true
}

// voiceHeap implements [container/heap.Interface] as a min-heap ordered by
// start frame, with FIFO tie-breaking on seq.
type voiceHeap []*voice

func (h voiceHeap) Len() int { return len(h) }

// Less reports whether voice i starts before voice j. Equal start frames fall
// back to insertion order.
func (h voiceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h voiceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *voiceHeap) Push(x any) {
	*h = append(*h, x.(*voice))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *voiceHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return v
}
