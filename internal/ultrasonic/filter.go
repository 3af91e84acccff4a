package ultrasonic

import "sort"

// medianFilter is a sliding-window median over the last N readings. It rides
// out the single-sample dropouts these transducers produce over water.
type medianFilter struct {
	window []int
	size   int
}

func newMedianFilter(size int) *medianFilter {
	if size < 1 {
		size = 1
	}
	return &medianFilter{size: size}
}

func (m *medianFilter) Push(v int) int {
	m.window = append(m.window, v)
	if len(m.window) > m.size {
		m.window = m.window[1:]
	}
	sorted := append([]int(nil), m.window...)
	sort.Ints(sorted)
	return sorted[len(sorted)/2]
}

func (m *medianFilter) Reset() {
	m.window = m.window[:0]
}
