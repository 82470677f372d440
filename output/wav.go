package output

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter encodes float blocks as integer PCM WAV.
type WAVWriter struct {
	encoder  *wav.Encoder
	closer   io.Closer
	channels int
	peak     float64

	buf *audio.IntBuffer
}

// CreateWAV creates path and writes a WAV header for the given format.
func CreateWAV(path string, sampleRate, channels, bitDepth int) (*WAVWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	w := NewWAVWriter(file, sampleRate, channels, bitDepth)
	w.closer = file
	return w, nil
}

// NewWAVWriter writes to ws. The header is finalized on Close.
func NewWAVWriter(ws io.WriteSeeker, sampleRate, channels, bitDepth int) *WAVWriter {
	return &WAVWriter{
		encoder:  wav.NewEncoder(ws, sampleRate, bitDepth, channels, 1),
		channels: channels,
		peak:     float64(int64(1)<<(bitDepth-1) - 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: bitDepth,
		},
	}
}

// WriteBlock encodes samples, clipping anything outside [-1, 1].
func (w *WAVWriter) WriteBlock(samples []float64, channels int) error {
	if channels != w.channels {
		return fmt.Errorf("block has %d channels, writer expects %d", channels, w.channels)
	}
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]

	for i, s := range samples {
		w.buf.Data[i] = int(math.Round(math.Max(-1, math.Min(1, s)) * w.peak))
	}
	return w.encoder.Write(w.buf)
}

// Close finalizes the header and closes the file if CreateWAV opened it.
func (w *WAVWriter) Close() error {
	if err := w.encoder.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
