package audio

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterManifestFormat(t *testing.T) {
	manifest := MasterManifest([]int{64, 128, 256})

	want := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=64000,NAME=\"64k\"\n" +
		"64k.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=128000,NAME=\"128k\"\n" +
		"128k.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=256000,NAME=\"256k\"\n" +
		"256k.m3u8\n"
	assert.Equal(t, want, manifest)
}

// parseBandwidths pulls BANDWIDTH values out of a master playlist in order.
func parseBandwidths(t *testing.T, manifest string) []int {
	t.Helper()
	var bandwidths []int
	scanner := bufio.NewScanner(strings.NewReader(manifest))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		for _, attr := range strings.Split(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"), ",") {
			if value, ok := strings.CutPrefix(strings.TrimSpace(attr), "BANDWIDTH="); ok {
				parsed, err := strconv.Atoi(value)
				require.NoError(t, err)
				bandwidths = append(bandwidths, parsed)
			}
		}
	}
	return bandwidths
}

func TestMasterManifestBandwidthsInLadderOrder(t *testing.T) {
	manifest := MasterManifest([]int{64, 128, 256})
	assert.Equal(t, []int{64000, 128000, 256000}, parseBandwidths(t, manifest))
}

func TestTranscodeInvokesFFmpegPerVariant(t *testing.T) {
	outputDir := t.TempDir()

	runner := &fakeRunner{handler: func(name string, args []string) ([]byte, []byte, error) {
		// Simulate ffmpeg writing the variant playlist it was asked for.
		playlist := args[len(args)-1]
		require.NoError(t, os.WriteFile(playlist, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0644))
		return nil, nil, nil
	}}
	transcoder := NewFFmpegTranscoder("ffmpeg", "4", runner)

	out, err := transcoder.Transcode(context.Background(), "/scratch/in.wav", outputDir, []int{64, 128})
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	require.Len(t, out.Variants, 2)
	assert.Equal(t, 64, out.Variants[0].BitrateKbps)
	assert.Equal(t, 128, out.Variants[1].BitrateKbps)
	assert.Equal(t, filepath.Join(outputDir, "64k.m3u8"), out.Variants[0].PlaylistPath)

	// Each invocation targets its own bitrate and segment duration.
	first := strings.Join(runner.calls[0], " ")
	assert.Contains(t, first, "-b:a 64k")
	assert.Contains(t, first, "-hls_time 4")
	assert.Contains(t, first, "-hls_playlist_type vod")

	// Master manifest written with both variants, ladder order.
	data, err := os.ReadFile(out.MasterPath)
	require.NoError(t, err)
	assert.Equal(t, []int{64000, 128000}, parseBandwidths(t, string(data)))
}

func TestTranscodeEmptyLadderRejected(t *testing.T) {
	transcoder := NewFFmpegTranscoder("ffmpeg", "4", &fakeRunner{})
	_, err := transcoder.Transcode(context.Background(), "in.wav", t.TempDir(), nil)
	var tErr *TranscodeError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, TranscodeUnsupportedInput, tErr.Kind)
	assert.False(t, tErr.Retryable())
}

func TestClassifyTranscodeError(t *testing.T) {
	cases := []struct {
		stderr    string
		kind      TranscodeErrorKind
		retryable bool
	}{
		{"No space left on device", TranscodeOutOfDisk, true},
		{"Invalid data found when processing input", TranscodeUnsupportedInput, false},
		{"av_interleaved_write_frame(): Broken pipe", TranscodeToolCrashed, true},
	}

	for _, tc := range cases {
		err := classifyTranscodeError("in.wav", []byte(tc.stderr), fmt.Errorf("exit status 1"))
		var tErr *TranscodeError
		require.ErrorAs(t, err, &tErr)
		assert.Equalf(t, tc.kind, tErr.Kind, "stderr %q", tc.stderr)
		assert.Equal(t, tc.retryable, tErr.Retryable())
	}
}
