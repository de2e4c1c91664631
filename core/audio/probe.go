package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// ProbeResult carries the technical metadata extracted from a raw audio file.
type ProbeResult struct {
	DurationMS   uint
	BitrateKbps  uint
	SampleRateHz uint
	ChannelCount uint
	// RawProbe is the prober's full JSON output, persisted for diagnostics.
	RawProbe string
}

// Prober extracts technical metadata from a local audio file. It is
// read-only: asset state is mutated by the orchestrator, never here.
type Prober interface {
	Probe(ctx context.Context, inputPath string) (*ProbeResult, error)
}

// FFprobeProber implements Prober using ffprobe.
type FFprobeProber struct {
	ffprobePath string
	runner      Runner
}

// NewFFprobeProber creates a new FFprobeProber.
func NewFFprobeProber(ffprobePath string, runner Runner) *FFprobeProber {
	return &FFprobeProber{ffprobePath: ffprobePath, runner: runner}
}

// ffprobeOutput mirrors the subset of ffprobe JSON the pipeline reads.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   uint   `json:"channels"`
}

// Probe runs ffprobe and rejects files with no decodable audio stream. This
// is the fast-fail gate: it runs before any transcode work begins.
func (p *FFprobeProber) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	stdout, stderr, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		if toolMissing(err) {
			return nil, &ProbeError{Kind: ToolUnavailable, Err: fmt.Errorf("ffprobe not found at %q: %w", p.ffprobePath, err)}
		}
		return nil, &ProbeError{Kind: ToolCrashed, Stderr: string(stderr), Err: fmt.Errorf("ffprobe execution failed for %s: %w", inputPath, err)}
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(stdout, &probeData); err != nil {
		return nil, &ProbeError{Kind: ToolCrashed, Err: fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputPath, err)}
	}

	var audio *ffprobeStream
	for i := range probeData.Streams {
		if probeData.Streams[i].CodecType == "audio" {
			audio = &probeData.Streams[i]
			break
		}
	}
	if audio == nil {
		return nil, &ProbeError{Kind: NoAudioStream, Err: fmt.Errorf("no audio stream found in %s", inputPath)}
	}

	result := &ProbeResult{
		SampleRateHz: parseUint(audio.SampleRate),
		ChannelCount: audio.Channels,
		RawProbe:     string(stdout),
	}

	if probeData.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(probeData.Format.Duration, 64)
		if err != nil {
			return nil, &ProbeError{Kind: ToolCrashed, Err: fmt.Errorf("failed to parse duration %q for %s: %w", probeData.Format.Duration, inputPath, err)}
		}
		result.DurationMS = uint(seconds * 1000)
	}

	// Prefer the stream bitrate, falling back to the container's.
	if kbps := parseUint(audio.BitRate) / 1000; kbps > 0 {
		result.BitrateKbps = kbps
	} else {
		result.BitrateKbps = parseUint(probeData.Format.BitRate) / 1000
	}

	return result, nil
}

func parseUint(s string) uint {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
