package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/frame"
	"github.com/RyanBlaney/sonido-ducker/logging"
)

// SampleReader delivers interleaved float samples in [-1, 1]. Read may
// return fewer samples than requested; io.EOF marks the end of input.
type SampleReader interface {
	Read(buf []float64) (int, error)
	SampleRate() int
	Channels() int
}

// BlockSink receives every block read from the input, interleaved, after
// the analyzer has seen it. The output stage implements it.
type BlockSink interface {
	WriteBlock(samples []float64, channels int) error
}

type resumable interface {
	Resume(ctx context.Context) error
}

// PCMSource is a frame source backed by a SampleReader. Each NextFrame call
// consumes one hop of input, forwards it to the sink and returns the
// analyzer's view of the latest window.
type PCMSource struct {
	reader   SampleReader
	sink     BlockSink
	analyzer *Analyzer
	logger   logging.Logger

	channels int
	hop      int // frames per tick

	block   []float64
	pending int
	mono    []float64
	eof     bool
}

// NewPCMSource creates a source reading one tick's worth of audio per frame.
// sink may be nil when only classification is wanted.
func NewPCMSource(reader SampleReader, sink BlockSink, cfg config.AnalyzerConfig, tick time.Duration) (*PCMSource, error) {
	channels := reader.Channels()
	if channels <= 0 {
		return nil, fmt.Errorf("reader reports %d channels", channels)
	}

	analyzer, err := NewAnalyzer(cfg, reader.SampleRate())
	if err != nil {
		return nil, err
	}

	hop := int(time.Duration(reader.SampleRate()) * tick / time.Second)
	if hop <= 0 {
		return nil, fmt.Errorf("tick %v is shorter than one sample at %d Hz", tick, reader.SampleRate())
	}

	return &PCMSource{
		reader:   reader,
		sink:     sink,
		analyzer: analyzer,
		logger:   logging.WithFields(logging.Fields{"component": "pcm_source"}),
		channels: channels,
		hop:      hop,
		block:    make([]float64, hop*channels),
		mono:     make([]float64, hop),
	}, nil
}

// HopSize returns the number of sample frames consumed per tick.
func (p *PCMSource) HopSize() int {
	return p.hop
}

// NextFrame reads up to one hop. A partial hop is kept and reported as
// frame.ErrNotReady; the remainder of input is flushed as a final frame at
// end of stream.
func (p *PCMSource) NextFrame(ctx context.Context) (*frame.AudioFrame, error) {
	if p.eof {
		return nil, frame.ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := p.reader.Read(p.block[p.pending:])
	p.pending += n

	switch {
	case errors.Is(err, io.EOF):
		p.eof = true
		if p.pending == 0 {
			return nil, frame.ErrEndOfStream
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %w", frame.ErrSourceUnavailable, err)
	case p.pending < len(p.block):
		return nil, frame.ErrNotReady
	}

	// drop a trailing partial sample frame
	samples := p.block[:p.pending-p.pending%p.channels]
	p.pending = 0

	if p.sink != nil {
		if err := p.sink.WriteBlock(samples, p.channels); err != nil {
			return nil, fmt.Errorf("write block: %w", err)
		}
	}

	mono := p.mono[:len(samples)/p.channels]
	mixDown(mono, samples, p.channels)
	p.analyzer.Write(mono)

	return p.analyzer.Frame(), nil
}

// Resume discards buffered input and analyzer history and restarts the
// reader when it supports it.
func (p *PCMSource) Resume(ctx context.Context) error {
	p.pending = 0
	p.eof = false
	p.analyzer.Reset()

	if r, ok := p.reader.(resumable); ok {
		if err := r.Resume(ctx); err != nil {
			return fmt.Errorf("resume reader: %w", err)
		}
		p.logger.Info("reader resumed")
	}
	return nil
}

// mixDown averages interleaved channels into dst.
func mixDown(dst, interleaved []float64, channels int) {
	if channels == 1 {
		copy(dst, interleaved)
		return
	}
	scale := 1 / float64(channels)
	for i := range dst {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		dst[i] = sum * scale
	}
}
