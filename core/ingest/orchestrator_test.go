package ingest

import (
	"context"
	"os"
	"strings"
	"testing"

	"resonate/core/audio"
	"resonate/model"
	"resonate/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOriginalRef = "tracks/asset-1/original.wav"

type pipelineEnv struct {
	repo       *fakeRepo
	store      *storage.MemoryStore
	prober     *fakeProber
	transcoder *fakeTranscoder
	waveform   *fakeWaveform
	bus        *recordingBus
	scratch    string
	orch       *Orchestrator
}

func newPipelineEnv(t *testing.T, ladder []int, maxRetries int) *pipelineEnv {
	t.Helper()
	env := &pipelineEnv{
		repo:  newFakeRepo(),
		store: storage.NewMemoryStore(),
		prober: &fakeProber{result: &audio.ProbeResult{
			DurationMS:   10005,
			BitrateKbps:  705,
			SampleRateHz: 44100,
			ChannelCount: 1,
			RawProbe:     `{"format":{}}`,
		}},
		transcoder: &fakeTranscoder{},
		waveform:   &fakeWaveform{},
		bus:        &recordingBus{},
		scratch:    t.TempDir(),
	}

	// Seed the durably stored original, as the upload-completion contract
	// requires.
	_, err := env.store.Put(context.Background(), testOriginalRef, strings.NewReader("riff-data"), -1, "audio/wav")
	require.NoError(t, err)

	env.orch = NewOrchestrator(Params{
		Repo:          env.repo,
		Store:         env.store,
		Prober:        env.prober,
		Transcoder:    env.transcoder,
		Waveform:      env.waveform,
		Events:        env.bus,
		Ladder:        ladder,
		ScratchBase:   env.scratch,
		Retry:         RetryPolicy{MaxRetries: maxRetries, Backoff: FixedBackoff(0)},
		UploadWorkers: 2,
	})
	return env
}

func (env *pipelineEnv) seedAsset(status model.ProcessingStatus) *model.AudioAsset {
	asset := &model.AudioAsset{
		ID:          1,
		PublicID:    "asset-1",
		TrackID:     7,
		Status:      status,
		OriginalRef: testOriginalRef,
	}
	env.repo.add(asset)
	return asset
}

func (env *pipelineEnv) assertScratchClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(env.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch space must be clean after every run")
}

func TestProcessHappyPath(t *testing.T) {
	env := newPipelineEnv(t, []int{64, 128}, 3)
	env.seedAsset(model.StatusPending)

	require.NoError(t, env.orch.Process(context.Background(), "asset-1"))

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusCompleted, asset.Status)
	require.NotNil(t, asset.ManifestRef)
	assert.InDelta(t, 10000, asset.DurationMS, 50)
	assert.Equal(t, testOriginalRef, asset.OriginalRef)

	require.Len(t, asset.Renditions, 2)
	assert.Equal(t, 64, asset.Renditions[0].BitrateKbps)
	assert.Equal(t, 128, asset.Renditions[1].BitrateKbps)
	assert.Equal(t, model.FormatHLS, asset.Renditions[0].Format)

	// The uploaded master manifest advertises both variants in ladder order.
	manifest, ok := env.store.Object(*asset.ManifestRef)
	require.True(t, ok)
	assert.Equal(t, 2, strings.Count(string(manifest), "#EXT-X-STREAM-INF"))
	assert.Contains(t, string(manifest), "BANDWIDTH=64000")
	assert.Contains(t, string(manifest), "BANDWIDTH=128000")

	// Segments and variant playlists are in storage too.
	_, ok = env.store.Object("tracks/asset-1/hls/64k_000.ts")
	assert.True(t, ok)
	_, ok = env.store.Object("tracks/asset-1/hls/128k.m3u8")
	assert.True(t, ok)

	// Waveform was rendered and referenced.
	require.NotNil(t, asset.WaveformRef)
	_, ok = env.store.Object(*asset.WaveformRef)
	assert.True(t, ok)

	assert.Equal(t, []string{"completed"}, env.bus.statuses())
	env.assertScratchClean(t)
}

func TestProcessIdempotentOnCompleted(t *testing.T) {
	env := newPipelineEnv(t, []int{64, 128}, 3)
	env.seedAsset(model.StatusPending)

	require.NoError(t, env.orch.Process(context.Background(), "asset-1"))
	first := env.repo.get("asset-1")
	manifestRef := *first.ManifestRef
	renditionCount := len(first.Renditions)

	// Second run must be a no-op: nothing re-probed, nothing re-transcoded.
	probeCalls, transcodeCalls := env.prober.calls, env.transcoder.callCount()
	require.NoError(t, env.orch.Process(context.Background(), "asset-1"))

	second := env.repo.get("asset-1")
	assert.Equal(t, model.StatusCompleted, second.Status)
	assert.Equal(t, manifestRef, *second.ManifestRef)
	assert.Len(t, second.Renditions, renditionCount)
	assert.Equal(t, probeCalls, env.prober.calls)
	assert.Equal(t, transcodeCalls, env.transcoder.callCount())
}

func TestProcessFastFailsWithoutAudioStream(t *testing.T) {
	env := newPipelineEnv(t, []int{64, 128, 256}, 3)
	env.seedAsset(model.StatusPending)
	env.prober.err = &audio.ProbeError{Kind: audio.NoAudioStream}

	err := env.orch.Process(context.Background(), "asset-1")
	var probeErr *audio.ProbeError
	require.ErrorAs(t, err, &probeErr)

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusFailed, asset.Status)
	assert.Zero(t, env.transcoder.callCount(), "transcoder must never run for bad input")
	assert.Empty(t, asset.Renditions)
	assert.Equal(t, testOriginalRef, asset.OriginalRef, "original must be preserved")
	assert.Equal(t, []string{"failed"}, env.bus.statuses())
	env.assertScratchClean(t)
}

func TestProcessFailsWhenProbeToolMissing(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	env.seedAsset(model.StatusPending)
	env.prober.err = &audio.ProbeError{Kind: audio.ToolUnavailable}

	err := env.orch.Process(context.Background(), "asset-1")
	require.Error(t, err)

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusFailed, asset.Status)
	assert.Empty(t, asset.Renditions)
	assert.Equal(t, testOriginalRef, asset.OriginalRef)
}

func TestProcessRetriesTransientTranscodeFailures(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	env.seedAsset(model.StatusPending)
	// Fails exactly maxRetries times, then succeeds.
	env.transcoder.failures = 3

	require.NoError(t, env.orch.Process(context.Background(), "asset-1"))

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusCompleted, asset.Status)
	assert.Equal(t, 4, env.transcoder.callCount())
	env.assertScratchClean(t)
}

func TestProcessFailsAfterRetriesExhausted(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	env.seedAsset(model.StatusPending)
	// One failure more than the policy tolerates.
	env.transcoder.failures = 4

	err := env.orch.Process(context.Background(), "asset-1")
	require.Error(t, err)

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusFailed, asset.Status)
	assert.Equal(t, 4, env.transcoder.callCount())
	assert.Equal(t, 4, asset.Attempts)
	assert.Empty(t, asset.Renditions)
	env.assertScratchClean(t)
}

func TestProcessDoesNotRetryUnsupportedInput(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	env.seedAsset(model.StatusPending)
	env.transcoder.failures = 1
	env.transcoder.failWith = &audio.TranscodeError{Kind: audio.TranscodeUnsupportedInput}

	err := env.orch.Process(context.Background(), "asset-1")
	require.Error(t, err)

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusFailed, asset.Status)
	assert.Equal(t, 1, env.transcoder.callCount(), "input errors are not retried")
}

func TestProcessFailsWhenOriginalMissing(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	asset := env.seedAsset(model.StatusPending)
	asset.OriginalRef = "tracks/asset-1/missing.wav"

	err := env.orch.Process(context.Background(), "asset-1")
	require.Error(t, err)

	assert.Equal(t, model.StatusFailed, env.repo.get("asset-1").Status)
	assert.Zero(t, env.prober.calls)
	env.assertScratchClean(t)
}

func TestProcessWaveformFailureIsNonFatal(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	env.seedAsset(model.StatusPending)
	env.waveform.err = os.ErrPermission

	require.NoError(t, env.orch.Process(context.Background(), "asset-1"))

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusCompleted, asset.Status)
	assert.Nil(t, asset.WaveformRef)
}

func TestProcessNeverCompletesWhenUploadsFail(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 0)
	env.seedAsset(model.StatusPending)
	// Every Put fails, including the once-retried finish sweep.
	env.store.FailPuts = 1 << 20

	err := env.orch.Process(context.Background(), "asset-1")
	require.Error(t, err)

	asset := env.repo.get("asset-1")
	assert.Equal(t, model.StatusFailed, asset.Status)
	assert.Nil(t, asset.ManifestRef, "no observer may see a manifest without COMPLETED")
	assert.Empty(t, asset.Renditions)
	env.assertScratchClean(t)
}

func TestProcessSkipsWhenCompletedConcurrently(t *testing.T) {
	env := newPipelineEnv(t, []int{64}, 3)
	env.seedAsset(model.StatusCompleted)

	// The status check short-circuits before any transition attempt.
	require.NoError(t, env.orch.Process(context.Background(), "asset-1"))
	assert.Zero(t, env.prober.calls)
	assert.Zero(t, env.transcoder.callCount())
}
