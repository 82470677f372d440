package filters

// Processor is a per-sample stateful audio processor.
type Processor interface {
	Process(input float64) float64
	Reset()
}

// Chain runs processors in series.
type Chain []Processor

// Process runs one sample through every stage.
func (c Chain) Process(input float64) float64 {
	for _, p := range c {
		input = p.Process(input)
	}
	return input
}

// ProcessBuffer filters buf in place.
func (c Chain) ProcessBuffer(buf []float64) {
	for i, s := range buf {
		buf[i] = c.Process(s)
	}
}

// Reset resets every stage.
func (c Chain) Reset() {
	for _, p := range c {
		p.Reset()
	}
}
