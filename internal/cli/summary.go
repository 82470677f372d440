package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-ducker/processing"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a finished session.
type Summary struct {
	Input   string
	Output  string
	Elapsed time.Duration
	Stats   processing.Snapshot

	// Gains holds the gain applied on every processed tick.
	Gains []float64
}

// Render formats the summary as a styled key/value block.
func (s Summary) Render() string {
	var sb strings.Builder

	sb.WriteString(TitleStyle.Render("sonido-ducker"))
	sb.WriteString("\n")

	row := func(key, value string) {
		sb.WriteString(KeyStyle.Render(key))
		sb.WriteString(ValueStyle.Render(value))
		sb.WriteString("\n")
	}

	if s.Input != "" {
		row("Input", s.Input)
	}
	if s.Output != "" {
		row("Output", s.Output)
	}
	row("Elapsed", s.Elapsed.Round(time.Millisecond).String())
	row("State", s.Stats.State)

	sb.WriteString("\n")
	sb.WriteString(SectionStyle.Render("Classification"))
	sb.WriteString("\n")
	row("Frames processed", fmt.Sprintf("%d", s.Stats.FramesProcessed))
	row("Music frames", fmt.Sprintf("%d (%.1f%%)", s.Stats.MusicDetectedFrames, 100*s.Stats.MusicFraction()))
	row("Avg music level", fmt.Sprintf("%.3f", s.Stats.AverageMusicLevel))
	row("Recoveries", fmt.Sprintf("%d", s.Stats.Recoveries))

	if len(s.Gains) > 0 {
		sb.WriteString("\n")
		sb.WriteString(SectionStyle.Render("Gain"))
		sb.WriteString("\n")
		row("Mean", fmt.Sprintf("%.3f", stat.Mean(s.Gains, nil)))
		row("Min", fmt.Sprintf("%.3f", floats.Min(s.Gains)))
		row("Max", fmt.Sprintf("%.3f", floats.Max(s.Gains)))
		row("Final", fmt.Sprintf("%.3f", s.Gains[len(s.Gains)-1]))
	}

	return sb.String()
}
