package audio

import (
	"context"
	"fmt"
)

// WaveformRenderer renders a waveform image for a local audio file. The
// pipeline treats rendering as best-effort: a failure is logged and skipped,
// never fatal.
type WaveformRenderer interface {
	Render(ctx context.Context, inputPath, outputPath string) error
}

// FFmpegWaveformRenderer renders the waveform with ffmpeg's showwavespic
// filter.
type FFmpegWaveformRenderer struct {
	ffmpegPath string
	runner     Runner
}

// NewFFmpegWaveformRenderer creates a new FFmpegWaveformRenderer.
func NewFFmpegWaveformRenderer(ffmpegPath string, runner Runner) *FFmpegWaveformRenderer {
	return &FFmpegWaveformRenderer{ffmpegPath: ffmpegPath, runner: runner}
}

// Render writes a PNG waveform to outputPath.
func (r *FFmpegWaveformRenderer) Render(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-i", inputPath,
		"-filter_complex", "showwavespic=s=1200x240:colors=#9bd1ff",
		"-frames:v", "1",
		"-y",
		outputPath,
	}

	_, stderr, err := r.runner.Run(ctx, r.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("waveform render failed for %s: %w (stderr: %s)", inputPath, err, string(stderr))
	}
	return nil
}
