package resource

// DefaultMaxHistory bounds the per-process sample ring.
const DefaultMaxHistory = 60

// History is a bounded ring of resource samples for one process. Oldest
// samples are dropped once MaxHistory is reached. Not safe for concurrent
// use; the resource-monitor loop is the only writer.
type History struct {
	maxHistory int
	samples    []Sample
	start      int
	count      int
}

func NewHistory(maxHistory int) *History {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &History{maxHistory: maxHistory, samples: make([]Sample, maxHistory)}
}

func (h *History) Add(s Sample) {
	idx := (h.start + h.count) % h.maxHistory
	h.samples[idx] = s
	if h.count < h.maxHistory {
		h.count++
	} else {
		h.start = (h.start + 1) % h.maxHistory
	}
}

func (h *History) Len() int { return h.count }

// Latest returns the most recent sample, if any.
func (h *History) Latest() (Sample, bool) {
	if h.count == 0 {
		return Sample{}, false
	}
	idx := (h.start + h.count - 1) % h.maxHistory
	return h.samples[idx], true
}

// Last returns up to n most recent samples, oldest first.
func (h *History) Last(n int) []Sample {
	if n > h.count {
		n = h.count
	}
	out := make([]Sample, 0, n)
	for i := h.count - n; i < h.count; i++ {
		out = append(out, h.samples[(h.start+i)%h.maxHistory])
	}
	return out
}

// MeanCPU returns the mean CPU percent over the last n samples.
func (h *History) MeanCPU(n int) float64 {
	last := h.Last(n)
	if len(last) == 0 {
		return 0
	}
	var sum float64
	for _, s := range last {
		sum += s.CPUPercent
	}
	return sum / float64(len(last))
}
