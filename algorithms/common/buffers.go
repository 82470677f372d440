package common

// History is a fixed-size circular buffer holding the most recent samples
// written to it. Slots never written read as zero, so a new History behaves
// like a window of silence.
type History struct {
	buffer   []float64
	writePos int
}

// NewHistory creates a history of size samples.
func NewHistory(size int) *History {
	return &History{buffer: make([]float64, size)}
}

// Size returns the window length.
func (h *History) Size() int {
	return len(h.buffer)
}

// Write appends data, overwriting the oldest samples.
func (h *History) Write(data []float64) {
	size := len(h.buffer)
	if size == 0 {
		return
	}
	// only the tail can survive
	if len(data) > size {
		data = data[len(data)-size:]
	}
	for _, sample := range data {
		h.buffer[h.writePos] = sample
		h.writePos = (h.writePos + 1) % size
	}
}

// CopyTo unrolls the window into dst oldest first and returns the number of
// samples copied.
func (h *History) CopyTo(dst []float64) int {
	n := copy(dst, h.buffer[h.writePos:])
	return n + copy(dst[n:], h.buffer[:h.writePos])
}

// Reset zeroes the window.
func (h *History) Reset() {
	clear(h.buffer)
	h.writePos = 0
}
