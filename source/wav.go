package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for inputs the WAV decoder rejects.
var ErrInvalidWAV = errors.New("invalid wav file")

// WAVReader decodes PCM WAV input into float samples.
type WAVReader struct {
	decoder *wav.Decoder
	closer  io.Closer

	sampleRate int
	channels   int
	scale      float64

	buf *audio.IntBuffer
}

// OpenWAV opens and validates a WAV file.
func OpenWAV(path string) (*WAVReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r, err := NewWAVReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = file
	return r, nil
}

// NewWAVReader reads the WAV header from rs.
func NewWAVReader(rs io.ReadSeeker) (*WAVReader, error) {
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seek to pcm data: %w", err)
	}
	if decoder.BitDepth == 0 || decoder.NumChans == 0 {
		return nil, fmt.Errorf("%w: %d bits, %d channels", ErrInvalidWAV, decoder.BitDepth, decoder.NumChans)
	}

	return &WAVReader{
		decoder:    decoder,
		sampleRate: int(decoder.SampleRate),
		channels:   int(decoder.NumChans),
		scale:      1 / float64(int64(1)<<(decoder.BitDepth-1)),
		buf: &audio.IntBuffer{
			Format: decoder.Format(),
		},
	}, nil
}

// Read fills buf with interleaved samples scaled to [-1, 1].
func (r *WAVReader) Read(buf []float64) (int, error) {
	if cap(r.buf.Data) < len(buf) {
		r.buf.Data = make([]int, len(buf))
	}
	r.buf.Data = r.buf.Data[:len(buf)]

	n, err := r.decoder.PCMBuffer(r.buf)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i, v := range r.buf.Data[:n] {
		buf[i] = float64(v) * r.scale
	}
	return n, nil
}

func (r *WAVReader) SampleRate() int { return r.sampleRate }
func (r *WAVReader) Channels() int   { return r.channels }

// BitDepth returns the source bit depth.
func (r *WAVReader) BitDepth() int {
	return int(r.decoder.BitDepth)
}

// Close releases the underlying file, if OpenWAV opened it.
func (r *WAVReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
