package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VariantOutput describes one transcoded rendition on local disk.
type VariantOutput struct {
	BitrateKbps  int
	PlaylistPath string // local path to <bitrate>k.m3u8
}

// TranscodeOutput describes a finished transcode in the scratch directory.
type TranscodeOutput struct {
	MasterPath string // local path to master.m3u8
	Variants   []VariantOutput
}

// Transcoder produces the full rendition set for one input file. On failure
// the output directory may hold partial results; the caller discards it and
// must never upload from it.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputDir string, ladder []int) (*TranscodeOutput, error)
}

// FFmpegTranscoder implements Transcoder using ffmpeg, one invocation per
// ladder entry.
type FFmpegTranscoder struct {
	ffmpegPath  string
	segmentTime string
	runner      Runner
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder. segmentTime is the HLS
// segment duration in seconds, as a string passed straight to ffmpeg.
func NewFFmpegTranscoder(ffmpegPath, segmentTime string, runner Runner) *FFmpegTranscoder {
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, segmentTime: segmentTime, runner: runner}
}

// VariantPlaylistName returns the playlist filename advertised for a ladder
// entry, e.g. "128k.m3u8".
func VariantPlaylistName(bitrateKbps int) string {
	return fmt.Sprintf("%dk.m3u8", bitrateKbps)
}

// MasterManifestName is the filename of the generated master playlist.
const MasterManifestName = "master.m3u8"

// Transcode runs one ffmpeg pass per ladder entry, then writes the master
// manifest referencing every variant in ladder order.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath, outputDir string, ladder []int) (*TranscodeOutput, error) {
	if len(ladder) == 0 {
		return nil, &TranscodeError{Kind: TranscodeUnsupportedInput, Err: fmt.Errorf("empty variant ladder")}
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, &TranscodeError{Kind: TranscodeOutOfDisk, Err: fmt.Errorf("failed to create output directory %s: %w", outputDir, err)}
	}

	out := &TranscodeOutput{}
	for _, kbps := range ladder {
		playlist := filepath.Join(outputDir, VariantPlaylistName(kbps))
		segments := filepath.Join(outputDir, fmt.Sprintf("%dk_%%03d.ts", kbps))

		args := []string{
			"-i", inputPath,
			"-vn",
			"-map", "0:a:0",
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%dk", kbps),
			"-ac", "2",
			"-ar", "48000",
			"-f", "hls",
			"-hls_time", t.segmentTime,
			"-hls_playlist_type", "vod",
			"-hls_list_size", "0",
			"-hls_segment_filename", segments,
			playlist,
		}

		_, stderr, err := t.runner.Run(ctx, t.ffmpegPath, args...)
		if err != nil {
			return nil, classifyTranscodeError(inputPath, stderr, err)
		}

		out.Variants = append(out.Variants, VariantOutput{BitrateKbps: kbps, PlaylistPath: playlist})
	}

	masterPath := filepath.Join(outputDir, MasterManifestName)
	if err := os.WriteFile(masterPath, []byte(MasterManifest(ladder)), 0644); err != nil {
		return nil, &TranscodeError{Kind: TranscodeOutOfDisk, Err: fmt.Errorf("failed to write master manifest: %w", err)}
	}
	out.MasterPath = masterPath

	return out, nil
}

// MasterManifest renders the master playlist for a variant ladder. The
// format is a published contract: one STREAM-INF entry per variant in ladder
// order, BANDWIDTH in bits per second, playlist named "<bitrate>k.m3u8".
func MasterManifest(ladder []int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, kbps := range ladder {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,NAME=\"%dk\"\n", kbps*1000, kbps)
		b.WriteString(VariantPlaylistName(kbps))
		b.WriteByte('\n')
	}
	return b.String()
}

// classifyTranscodeError maps an ffmpeg failure onto the TranscodeError
// taxonomy using the captured stderr.
func classifyTranscodeError(inputPath string, stderr []byte, err error) error {
	msg := string(stderr)
	kind := TranscodeToolCrashed
	switch {
	case toolMissing(err):
		kind = TranscodeToolCrashed
	case strings.Contains(msg, "No space left on device"):
		kind = TranscodeOutOfDisk
	case strings.Contains(msg, "Invalid data found when processing input"),
		strings.Contains(msg, "could not find codec"),
		strings.Contains(msg, "does not contain any stream"):
		kind = TranscodeUnsupportedInput
	}
	return &TranscodeError{
		Kind:   kind,
		Stderr: msg,
		Err:    fmt.Errorf("ffmpeg execution failed for %s: %w", inputPath, err),
	}
}
