package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/RyanBlaney/sonido-ducker/logging"
)

const bytesPerSample = 8 // f64le

var (
	// ErrNotStarted is returned by Read before Start or after Close.
	ErrNotStarted = errors.New("stream not started")

	// ErrStreamEnded is returned when a live stream's decoder exits. Unlike
	// io.EOF it asks the caller to resume rather than finish.
	ErrStreamEnded = errors.New("live stream ended")
)

// StreamConfig holds ffmpeg decoding options for a stream.
type StreamConfig struct {
	URL        string `yaml:"url" json:"url"`
	StreamType string `yaml:"stream_type" json:"stream_type"` // "icecast", "hls" or empty
	SampleRate int    `yaml:"sample_rate" json:"sample_rate"`
	Channels   int    `yaml:"channels" json:"channels"`
	FFmpegPath string `yaml:"ffmpeg_path" json:"ffmpeg_path"`

	// Live streams never end on their own; decoder exit is a failure.
	Live bool `yaml:"live" json:"live"`

	// Normalization options
	NormalizationMethod string  `yaml:"normalization_method" json:"normalization_method"` // "loudnorm", "dynaudnorm", "compand" or empty
	TargetLUFS          float64 `yaml:"target_lufs" json:"target_lufs"`
	TargetPeak          float64 `yaml:"target_peak" json:"target_peak"`
	LoudnessRange       float64 `yaml:"loudness_range" json:"loudness_range"`

	// StopTimeout bounds how long Close waits for ffmpeg to exit.
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// DefaultStreamConfig returns a stereo 44.1 kHz live configuration for url
// without loudness normalization.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:           url,
		SampleRate:    44100,
		Channels:      2,
		FFmpegPath:    "ffmpeg", // Assume in PATH
		Live:          true,
		TargetLUFS:    -23.0, // EBU R128 standard
		TargetPeak:    -2.0,
		LoudnessRange: 7.0,
		StopTimeout:   5 * time.Second,
	}
}

// Validate checks the configuration before any process is spawned.
func (c StreamConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive: %d", c.SampleRate))
	}
	if c.Channels <= 0 || c.Channels > 8 {
		errs = append(errs, fmt.Errorf("channels must be between 1 and 8: %d", c.Channels))
	}
	if c.FFmpegPath == "" {
		errs = append(errs, errors.New("ffmpeg path is required"))
	}
	return errors.Join(errs...)
}

// Stream decodes a URL or file through a long-running ffmpeg process and
// exposes the output as interleaved float samples. It can be restarted with
// Resume after the decoder dies.
type Stream struct {
	cfg    StreamConfig
	logger logging.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	done   chan struct{}

	raw   []byte
	carry []byte // partial sample left over from the previous read
}

// NewStream validates cfg and returns an unstarted stream.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	return &Stream{
		cfg: cfg,
		logger: logging.WithFields(logging.Fields{
			"component":   "ffmpeg_stream",
			"url":         cfg.URL,
			"stream_type": cfg.StreamType,
		}),
	}, nil
}

// SampleRate returns the decoded sample rate.
func (s *Stream) SampleRate() int {
	return s.cfg.SampleRate
}

// Channels returns the decoded channel count.
func (s *Stream) Channels() int {
	return s.cfg.Channels
}

// Args returns the ffmpeg argument list for the configured stream.
func (s *Stream) Args() []string {
	args := []string{
		"-v", "error", // Suppress verbose output
	}

	switch s.cfg.StreamType {
	case "icecast":
		args = append(args,
			"-reconnect", "1",
			"-reconnect_at_eof", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "1",
			"-fflags", "+genpts+igndts+flush_packets",
			"-rw_timeout", "5000000", // 5 second read timeout
		)
	case "hls":
		args = append(args,
			"-fflags", "+genpts+igndts+flush_packets",
			"-live_start_index", "-1",
			"-probesize", "5000000",
			"-analyzeduration", "10000000",
			"-rw_timeout", "30000000",
			"-reconnect", "1",
			"-reconnect_at_eof", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
		)
	}

	args = append(args, "-i", s.cfg.URL)

	if s.cfg.StreamType == "hls" {
		// For HLS: explicitly select first audio stream, ignore video
		args = append(args, "-map", "0:a:0")
	} else {
		args = append(args, "-map", "0:a:0?")
	}

	args = append(args,
		"-vn",
		"-f", "f64le",
		"-ac", strconv.Itoa(s.cfg.Channels),
		"-ar", strconv.Itoa(s.cfg.SampleRate),
	)

	if filter := s.normalizationFilter(); filter != "" {
		args = append(args, "-af", filter)
	}

	return append(args, "pipe:1")
}

// normalizationFilter builds the -af expression for the configured method.
func (s *Stream) normalizationFilter() string {
	switch s.cfg.NormalizationMethod {
	case "loudnorm":
		return fmt.Sprintf("loudnorm=I=%.1f:TP=%.1f:LRA=%.1f",
			s.cfg.TargetLUFS,
			s.cfg.TargetPeak,
			s.cfg.LoudnessRange)
	case "dynaudnorm":
		return "dynaudnorm=p=0.95:m=10:s=12"
	case "compand":
		return fmt.Sprintf("compand=0.1,0.3:-90/-90,-%.1f/-%.1f,0/0:6:0:-90:0.1",
			math.Abs(s.cfg.TargetPeak),
			math.Abs(s.cfg.TargetPeak))
	default:
		return ""
	}
}

// Start launches ffmpeg. The process lives until Close, Resume or ctx
// cancellation.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("stream already started")
	}
	return s.startLocked(ctx)
}

func (s *Stream) startLocked(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(ctx)
	args := s.Args()
	cmd := exec.CommandContext(procCtx, s.cfg.FFmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	s.logger.Debug("Starting FFmpeg stream", logging.Fields{
		"command": fmt.Sprintf("%s %s", s.cfg.FFmpegPath, strings.Join(args, " ")),
	})

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Wait closes the pipe, so it must only run after Read has seen EOF
		// or the process has been cancelled.
		<-procCtx.Done()
		if err := cmd.Wait(); err != nil && stderr.Len() > 0 {
			s.logger.Debug("FFmpeg exited", logging.Fields{
				"stderr": strings.TrimSpace(stderr.String()),
			})
		}
	}()

	s.cmd = cmd
	s.out = out
	s.stderr = &stderr
	s.cancel = cancel
	s.done = done
	s.carry = s.carry[:0]
	return nil
}

// Read fills buf with as many whole samples as are currently available.
func (s *Stream) Read(buf []float64) (int, error) {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()

	if out == nil {
		return 0, ErrNotStarted
	}
	if len(buf) == 0 {
		return 0, nil
	}

	need := len(buf) * bytesPerSample
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]
	carried := copy(raw, s.carry)

	n, err := out.Read(raw[carried:])
	total := carried + n
	count := decodeFloat64(buf, raw[:total])
	s.carry = append(s.carry[:0], raw[count*bytesPerSample:total]...)

	switch {
	case err == nil:
		return count, nil
	case errors.Is(err, io.EOF):
		if s.cfg.Live {
			s.logger.Warn("FFmpeg stream ended")
			return count, ErrStreamEnded
		}
		return count, io.EOF
	default:
		return count, fmt.Errorf("read ffmpeg output: %w", err)
	}
}

// Resume stops the current decoder, if any, and starts a fresh one.
func (s *Stream) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if err := s.startLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("FFmpeg stream restarted")
	return nil
}

// Close stops the decoder and releases the process.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	return nil
}

func (s *Stream) stopLocked() {
	if s.cmd == nil {
		return
	}
	s.cancel()

	timeout := s.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-s.done:
	case <-time.After(timeout):
		s.logger.Warn("FFmpeg did not exit in time", logging.Fields{
			"timeout": timeout.Seconds(),
		})
	}

	s.cmd = nil
	s.out = nil
	s.cancel = nil
	s.done = nil
}

// decodeFloat64 converts whole little-endian float64 samples from data into
// dst and returns how many were written.
func decodeFloat64(dst []float64, data []byte) int {
	count := min(len(data)/bytesPerSample, len(dst))
	for i := range count {
		bits := binary.LittleEndian.Uint64(data[i*bytesPerSample : (i+1)*bytesPerSample])
		dst[i] = math.Float64frombits(bits)
	}
	return count
}
