package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"resonate/core/audio"
	"resonate/events"
	"resonate/model"
	"resonate/repository"
)

// fakeRepo is an in-memory AssetRepository enforcing the same transition
// rules as the GORM implementation.
type fakeRepo struct {
	mu     sync.Mutex
	assets map[string]*model.AudioAsset
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{assets: make(map[string]*model.AudioAsset)}
}

func (r *fakeRepo) add(asset *model.AudioAsset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[asset.PublicID] = asset
}

func (r *fakeRepo) get(publicID string) *model.AudioAsset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assets[publicID]
}

func (r *fakeRepo) CreateWithTrack(track *model.Track, asset *model.AudioAsset) error {
	r.add(asset)
	return nil
}

func (r *fakeRepo) GetByPublicID(publicID string) (*model.AudioAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[publicID]
	if !ok {
		return nil, repository.ErrAssetNotFound
	}
	copied := *asset
	return &copied, nil
}

func (r *fakeRepo) transition(publicID string, target model.ProcessingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[publicID]
	if !ok {
		return repository.ErrAssetNotFound
	}
	if !asset.Status.CanTransitionTo(target) {
		return &model.InvalidTransitionError{From: asset.Status, To: target}
	}
	asset.Status = target
	now := time.Now()
	asset.HeartbeatAt = &now
	return nil
}

func (r *fakeRepo) MarkProcessing(publicID string) error {
	return r.transition(publicID, model.StatusProcessing)
}

func (r *fakeRepo) MarkFailed(publicID string, attempts int, cause string) error {
	if err := r.transition(publicID, model.StatusFailed); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[publicID].Attempts = attempts
	r.assets[publicID].LastError = cause
	return nil
}

func (r *fakeRepo) Complete(publicID string, c repository.Completion) error {
	if c.ManifestRef == "" || len(c.Renditions) == 0 {
		return fmt.Errorf("completion requires a manifest ref and at least one rendition")
	}
	if err := r.transition(publicID, model.StatusCompleted); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset := r.assets[publicID]
	asset.ManifestRef = &c.ManifestRef
	asset.WaveformRef = c.WaveformRef
	asset.DurationMS = c.DurationMS
	asset.BitrateKbps = c.BitrateKbps
	asset.SampleRateHz = c.SampleRateHz
	asset.ChannelCount = c.ChannelCount
	asset.RawProbe = c.RawProbe
	asset.Renditions = c.Renditions
	return nil
}

func (r *fakeRepo) Heartbeat(publicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if asset, ok := r.assets[publicID]; ok {
		now := time.Now()
		asset.HeartbeatAt = &now
	}
	return nil
}

func (r *fakeRepo) FindStaleProcessing(cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, asset := range r.assets {
		if asset.Status == model.StatusProcessing && (asset.HeartbeatAt == nil || asset.HeartbeatAt.Before(cutoff)) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeRepo) Publish(publicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[publicID]
	if !ok {
		return repository.ErrAssetNotFound
	}
	if asset.Status != model.StatusCompleted {
		return repository.ErrNotCompleted
	}
	asset.Published = true
	return nil
}

// fakeProber returns a canned result or error.
type fakeProber struct {
	result *audio.ProbeResult
	err    error
	calls  int
}

func (f *fakeProber) Probe(ctx context.Context, inputPath string) (*audio.ProbeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeTranscoder fails a configured number of times, then writes a
// plausible output directory.
type fakeTranscoder struct {
	mu       sync.Mutex
	failures int
	failWith error
	calls    int
}

func (f *fakeTranscoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranscoder) Transcode(ctx context.Context, inputPath, outputDir string, ladder []int) (*audio.TranscodeOutput, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()

	if calls <= f.failures {
		if f.failWith != nil {
			return nil, f.failWith
		}
		return nil, &audio.TranscodeError{Kind: audio.TranscodeToolCrashed, Err: fmt.Errorf("simulated crash")}
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	out := &audio.TranscodeOutput{}
	for _, kbps := range ladder {
		playlist := filepath.Join(outputDir, audio.VariantPlaylistName(kbps))
		if err := os.WriteFile(playlist, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0644); err != nil {
			return nil, err
		}
		for i := 0; i < 2; i++ {
			segment := filepath.Join(outputDir, fmt.Sprintf("%dk_%03d.ts", kbps, i))
			if err := os.WriteFile(segment, []byte("segment-data"), 0644); err != nil {
				return nil, err
			}
		}
		out.Variants = append(out.Variants, audio.VariantOutput{BitrateKbps: kbps, PlaylistPath: playlist})
	}
	out.MasterPath = filepath.Join(outputDir, audio.MasterManifestName)
	if err := os.WriteFile(out.MasterPath, []byte(audio.MasterManifest(ladder)), 0644); err != nil {
		return nil, err
	}
	return out, nil
}

// fakeWaveform renders an empty PNG, or fails on demand.
type fakeWaveform struct {
	err   error
	calls int
}

func (f *fakeWaveform) Render(ctx context.Context, inputPath, outputPath string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("png"), 0644)
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ctx context.Context, ev events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) statuses() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		out = append(out, ev.Status)
	}
	return out
}
