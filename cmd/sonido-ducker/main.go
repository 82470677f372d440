package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RyanBlaney/sonido-ducker/config"
	"github.com/RyanBlaney/sonido-ducker/control"
	"github.com/RyanBlaney/sonido-ducker/internal/cli"
	"github.com/RyanBlaney/sonido-ducker/logging"
	"github.com/RyanBlaney/sonido-ducker/observe"
	"github.com/RyanBlaney/sonido-ducker/output"
	"github.com/RyanBlaney/sonido-ducker/processing"
	"github.com/RyanBlaney/sonido-ducker/source"
	"github.com/RyanBlaney/sonido-ducker/transcode"
	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

var (
	version = "0.1.0"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" type:"path" help:"Path to YAML config file (optional)"`
	Profile  string `short:"p" enum:"standard,wide,lowpower" default:"standard" help:"Tuning profile when no config file is given"`
	LogLevel string `name:"log-level" placeholder:"LEVEL" help:"Override the configured log level"`
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Version kong.VersionFlag `short:"v" help:"Show version information"`

	Process ProcessCmd `cmd:"" help:"Duck music in a WAV file as fast as possible"`
	Stream  StreamCmd  `cmd:"" help:"Duck a live stream in real time"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliArgs := &CLI{}
	kctx := kong.Parse(cliArgs,
		kong.Name("sonido-ducker"),
		kong.Description("Spectral music/speech classifier that ducks music under speech"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	if err := kctx.Run(&cliArgs.Globals); err != nil {
		cli.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig resolves the session configuration and installs the global
// logger at the configured level.
func loadConfig(g *Globals) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.Config != "" {
		cfg, err = config.Load(g.Config)
	} else {
		cfg, err = config.ForProfile(config.Profile(g.Profile))
	}
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.NewDefaultLogger()
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)

	return cfg, nil
}

// gainRecorder collects the gain of every processed tick. It runs on the
// loop goroutine and is read only after the loop has stopped.
type gainRecorder struct {
	gains []float64
}

func (r *gainRecorder) observe(res processing.TickResult) {
	if res.Status == processing.TickProcessed {
		r.gains = append(r.gains, res.Gain)
	}
}

// ProcessCmd ducks a WAV file offline.
type ProcessCmd struct {
	Input    string `arg:"" type:"existingfile" help:"Input WAV file"`
	Output   string `arg:"" type:"path" help:"Output WAV file"`
	BitDepth int    `name:"bit-depth" help:"Output bit depth (defaults to the input's)"`
	Bypass   bool   `help:"Disable ducking; only the enhancement chain is applied"`
}

func (c *ProcessCmd) Run(g *Globals, ctx context.Context) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	reader, err := source.OpenWAV(c.Input)
	if err != nil {
		return err
	}
	defer reader.Close()

	bitDepth := c.BitDepth
	if bitDepth == 0 {
		bitDepth = reader.BitDepth()
	}

	writer, err := output.CreateWAV(c.Output, reader.SampleRate(), reader.Channels(), bitDepth)
	if err != nil {
		return err
	}

	stage, err := output.NewStage(cfg.Output, reader.SampleRate(), reader.Channels(), cfg.Gain.Initial, writer)
	if err != nil {
		writer.Close()
		return err
	}

	src, err := source.NewPCMSource(reader, stage, cfg.Analyzer, cfg.Loop.TickInterval)
	if err != nil {
		writer.Close()
		return err
	}

	rec := &gainRecorder{}
	loop := processing.New(cfg, src, stage,
		processing.WithDriver(processing.FreeRunDriver{}),
		processing.WithObserver(rec.observe),
	)
	loop.SetEnabled(!c.Bypass)

	start := time.Now()
	runErr := loop.Run(ctx)
	if err := errors.Join(runErr, writer.Close()); err != nil {
		return err
	}

	fmt.Println(cli.Summary{
		Input:   c.Input,
		Output:  c.Output,
		Elapsed: time.Since(start),
		Stats:   loop.Stats(),
		Gains:   rec.gains,
	}.Render())
	return nil
}

// StreamCmd ducks a stream decoded by ffmpeg, paced by the tick interval.
type StreamCmd struct {
	URL        string        `arg:"" help:"Stream URL or file path passed to ffmpeg"`
	Type       string        `enum:"icecast,hls,file" default:"icecast" help:"Stream type"`
	Normalize  string        `enum:"none,loudnorm,dynaudnorm,compand" default:"none" help:"Loudness normalization applied by ffmpeg"`
	SampleRate int           `name:"sample-rate" help:"Decode sample rate (defaults to the profile's)"`
	Channels   int           `default:"2" help:"Decode channel count"`
	FFmpeg     string        `default:"ffmpeg" help:"Path to the ffmpeg binary"`
	Record     string        `type:"path" help:"Record the ducked output to a WAV file"`
	Listen     string        `default:":8080" help:"Listen address for the control API and /metrics"`
	Duration   time.Duration `help:"Stop after this long (0 runs until interrupted)"`
}

func (c *StreamCmd) streamConfig(cfg *config.Config) transcode.StreamConfig {
	scfg := transcode.DefaultStreamConfig(c.URL)
	scfg.FFmpegPath = c.FFmpeg
	scfg.Channels = c.Channels
	scfg.SampleRate = c.SampleRate
	if scfg.SampleRate == 0 {
		scfg.SampleRate = cfg.Analyzer.SampleRate
	}

	switch c.Type {
	case "file":
		scfg.Live = false
	default:
		scfg.StreamType = c.Type
	}
	if c.Normalize != "none" {
		scfg.NormalizationMethod = c.Normalize
	}
	return scfg
}

func (c *StreamCmd) Run(g *Globals, ctx context.Context) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger := logging.WithFields(logging.Fields{"component": "stream_command"})

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			logger.Warn("metrics shutdown failed", logging.Fields{"error": err.Error()})
		}
	}()

	if c.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := transcode.NewStream(c.streamConfig(cfg))
	if err != nil {
		return err
	}
	if err := stream.Start(ctx); err != nil {
		return err
	}
	defer stream.Close()

	var (
		recorder *output.WAVWriter
		sink     output.BlockWriter
	)
	if c.Record != "" {
		recorder, err = output.CreateWAV(c.Record, stream.SampleRate(), stream.Channels(), 16)
		if err != nil {
			return err
		}
		sink = recorder
	}

	stage, err := output.NewStage(cfg.Output, stream.SampleRate(), stream.Channels(), cfg.Gain.Initial, sink)
	if err != nil {
		return err
	}

	src, err := source.NewPCMSource(stream, stage, cfg.Analyzer, cfg.Loop.TickInterval)
	if err != nil {
		return err
	}

	rec := &gainRecorder{}
	loop := processing.New(cfg, src, stage, processing.WithObserver(rec.observe))
	ctrl := control.NewServer(loop)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", ctrl.Handler())
	httpSrv := &http.Server{
		Addr:              c.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	start := time.Now()
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		// The loop ends on its own at end of stream; take the servers down
		// with it.
		defer cancel()
		return loop.Run(gctx)
	})
	grp.Go(func() error {
		return ctrl.Run(gctx)
	})
	grp.Go(func() error {
		logger.Info("control server listening", logging.Fields{"addr": c.Listen})
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	runErr := grp.Wait()
	if recorder != nil {
		runErr = errors.Join(runErr, recorder.Close())
	}

	fmt.Println(cli.Summary{
		Input:   c.URL,
		Output:  c.Record,
		Elapsed: time.Since(start),
		Stats:   loop.Stats(),
		Gains:   rec.gains,
	}.Render())
	return runErr
}
