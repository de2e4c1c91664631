package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"resonate/core/audio"
	"resonate/events"
	"resonate/logger"
	"resonate/model"
	"resonate/repository"
	"resonate/storage"

	"github.com/google/uuid"
)

// Params wires an Orchestrator's collaborators and policy.
type Params struct {
	Repo       repository.AssetRepository
	Store      storage.ArtifactStore
	Prober     audio.Prober
	Transcoder audio.Transcoder
	Waveform   audio.WaveformRenderer
	Events     events.Publisher

	Ladder        []int
	ScratchBase   string
	Retry         RetryPolicy
	UploadWorkers int
}

// Orchestrator drives the ingestion pipeline for one asset at a time:
// download, probe, transcode, upload, atomic completion. It is the only
// writer of AudioAsset state.
type Orchestrator struct {
	repo       repository.AssetRepository
	store      storage.ArtifactStore
	prober     audio.Prober
	transcoder audio.Transcoder
	waveform   audio.WaveformRenderer
	events     events.Publisher

	ladder        []int
	scratchBase   string
	retry         RetryPolicy
	uploadWorkers int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(p Params) *Orchestrator {
	return &Orchestrator{
		repo:          p.Repo,
		store:         p.Store,
		prober:        p.Prober,
		transcoder:    p.Transcoder,
		waveform:      p.Waveform,
		events:        p.Events,
		ladder:        p.Ladder,
		scratchBase:   p.ScratchBase,
		retry:         p.Retry,
		uploadWorkers: p.UploadWorkers,
	}
}

// derivedPrefix is where an asset's transcoded artifacts live in storage.
func derivedPrefix(assetID string) string {
	return "tracks/" + assetID + "/hls/"
}

// waveformKey is the storage key of an asset's waveform image.
func waveformKey(assetID string) string {
	return "tracks/" + assetID + "/waveform.png"
}

// Process runs the full pipeline for one asset. Every terminal failure is
// persisted as FAILED before the error is returned, so callers only log it;
// the original upload is never touched.
func (o *Orchestrator) Process(ctx context.Context, assetID string) error {
	asset, err := o.repo.GetByPublicID(assetID)
	if err != nil {
		return fmt.Errorf("failed to load asset %s: %w", assetID, err)
	}

	// Idempotent no-op: duplicate triggers for a finished asset exit before
	// touching anything.
	if asset.Status == model.StatusCompleted {
		logger.Info("Asset already completed, skipping", logger.String("assetId", assetID))
		return nil
	}

	if err := o.repo.MarkProcessing(assetID); err != nil {
		var inv *model.InvalidTransitionError
		if errors.As(err, &inv) && inv.From == model.StatusCompleted {
			// Lost a race against a run that just completed.
			logger.Info("Asset completed concurrently, skipping", logger.String("assetId", assetID))
			return nil
		}
		return fmt.Errorf("failed to start processing %s: %w", assetID, err)
	}

	// Scratch space is exclusively owned by this run and removed on every
	// exit path.
	scratch := filepath.Join(o.scratchBase, "ingest-"+assetID+"-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return o.fail(ctx, asset, 1, fmt.Errorf("failed to create scratch dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			// Cleanup problems must never mask the primary outcome.
			logger.Warn("Failed to clean scratch dir",
				logger.String("assetId", assetID),
				logger.String("dir", scratch),
				logger.ErrorField(err))
		}
	}()

	// Step 3: pull the original master into scratch.
	inputPath := filepath.Join(scratch, "original"+filepath.Ext(asset.OriginalRef))
	if err := o.download(ctx, asset.OriginalRef, inputPath); err != nil {
		return o.fail(ctx, asset, 1, err)
	}
	o.heartbeat(assetID)

	// Step 4: probe. A file that cannot be probed is bad input, not a
	// transient condition; no retry.
	probe, err := o.prober.Probe(ctx, inputPath)
	if err != nil {
		return o.fail(ctx, asset, 1, err)
	}
	o.heartbeat(assetID)

	// Steps 5-7: transcode with bounded retry, uploading segments as they
	// appear; storage failures inside the upload get one retry in Finish.
	outputDir := filepath.Join(scratch, "hls")
	out, refs, attempts, err := o.transcodeAndUpload(ctx, assetID, inputPath, outputDir)
	if err != nil {
		return o.fail(ctx, asset, attempts, err)
	}
	o.heartbeat(assetID)

	// Step 6 (best-effort): waveform. Failure is logged and skipped.
	waveformRef := o.renderWaveform(ctx, assetID, inputPath, scratch)

	// Step 8: atomic completion.
	manifestRef, ok := refs[audio.MasterManifestName]
	if !ok {
		return o.fail(ctx, asset, attempts, fmt.Errorf("master manifest missing from upload set"))
	}
	renditions := make([]model.Rendition, 0, len(out.Variants))
	for _, v := range out.Variants {
		ref, ok := refs[filepath.Base(v.PlaylistPath)]
		if !ok {
			return o.fail(ctx, asset, attempts, fmt.Errorf("variant playlist %s missing from upload set", filepath.Base(v.PlaylistPath)))
		}
		renditions = append(renditions, model.Rendition{
			BitrateKbps: v.BitrateKbps,
			Format:      model.FormatHLS,
			StorageRef:  ref,
		})
	}

	completion := repository.Completion{
		ManifestRef:  manifestRef,
		WaveformRef:  waveformRef,
		DurationMS:   probe.DurationMS,
		BitrateKbps:  probe.BitrateKbps,
		SampleRateHz: probe.SampleRateHz,
		ChannelCount: probe.ChannelCount,
		RawProbe:     probe.RawProbe,
		Renditions:   renditions,
	}
	if err := o.repo.Complete(assetID, completion); err != nil {
		var inv *model.InvalidTransitionError
		if errors.As(err, &inv) && inv.From == model.StatusCompleted {
			// A redundant concurrent run won the completion race; only one
			// COMPLETED transition is ever trusted.
			logger.Info("Asset completed by concurrent run", logger.String("assetId", assetID))
			return nil
		}
		return o.fail(ctx, asset, attempts, fmt.Errorf("failed to complete asset: %w", err))
	}

	logger.Info("Asset processing completed",
		logger.String("assetId", assetID),
		logger.Uint("durationMs", probe.DurationMS),
		logger.Int("renditions", len(renditions)),
		logger.Int("attempts", attempts))

	o.publishEvent(ctx, asset, model.StatusCompleted)
	return nil
}

// transcodeAndUpload runs the transcode under the retry policy, with the
// segment uploader streaming output to storage during each attempt. It
// returns the transcode output, the uploaded refs and the number of
// attempts made.
func (o *Orchestrator) transcodeAndUpload(ctx context.Context, assetID, inputPath, outputDir string) (*audio.TranscodeOutput, map[string]string, int, error) {
	prefix := derivedPrefix(assetID)

	for attempt := 0; ; attempt++ {
		uploader := NewSegmentUploader(o.store, o.uploadWorkers)
		if err := uploader.Start(ctx, outputDir, prefix); err != nil {
			return nil, nil, attempt + 1, err
		}

		out, err := o.transcoder.Transcode(ctx, inputPath, outputDir, o.ladder)
		if err != nil {
			uploader.Abort()
			// Partial output is never surfaced.
			if rmErr := os.RemoveAll(outputDir); rmErr != nil {
				logger.Warn("Failed to discard partial transcode output",
					logger.String("assetId", assetID),
					logger.ErrorField(rmErr))
			}

			var tErr *audio.TranscodeError
			retryable := errors.As(err, &tErr) && tErr.Retryable()
			if !retryable || attempt >= o.retry.MaxRetries {
				return nil, nil, attempt + 1, err
			}

			logger.Warn("Transient transcode failure, backing off",
				logger.String("assetId", assetID),
				logger.Int("attempt", attempt+1),
				logger.Int("maxRetries", o.retry.MaxRetries),
				logger.ErrorField(err))
			if waitErr := o.retry.Wait(ctx, attempt); waitErr != nil {
				return nil, nil, attempt + 1, fmt.Errorf("retry wait aborted: %w", waitErr)
			}
			o.heartbeat(assetID)
			continue
		}

		refs, upErr := uploader.Finish(ctx)
		if upErr != nil {
			// Finish already retried each object once; storage is down.
			return nil, nil, attempt + 1, upErr
		}
		return out, refs, attempt + 1, nil
	}
}

// download copies a stored object to a local path.
func (o *Orchestrator) download(ctx context.Context, ref, localPath string) error {
	obj, err := o.store.Get(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to fetch original %s: %w", ref, err)
	}
	defer obj.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, obj); err != nil {
		return fmt.Errorf("failed to download %s: %w", ref, err)
	}
	return nil
}

// renderWaveform renders and uploads the waveform image. Best-effort: any
// failure is logged and a nil ref returned.
func (o *Orchestrator) renderWaveform(ctx context.Context, assetID, inputPath, scratch string) *string {
	if o.waveform == nil {
		return nil
	}
	localPath := filepath.Join(scratch, "waveform.png")
	if err := o.waveform.Render(ctx, inputPath, localPath); err != nil {
		logger.Warn("Waveform render failed, skipping",
			logger.String("assetId", assetID),
			logger.ErrorField(err))
		return nil
	}
	ref, err := o.store.PutFile(ctx, waveformKey(assetID), localPath)
	if err != nil {
		logger.Warn("Waveform upload failed, skipping",
			logger.String("assetId", assetID),
			logger.ErrorField(err))
		return nil
	}
	return &ref
}

// fail persists the FAILED status with diagnostics and reports the primary
// error back to the job runner. The original upload stays intact so a retry
// trigger can re-run the pipeline from scratch.
func (o *Orchestrator) fail(ctx context.Context, asset *model.AudioAsset, attempts int, cause error) error {
	logger.Error("Asset processing failed",
		logger.String("assetId", asset.PublicID),
		logger.Int("attempts", attempts),
		logger.ErrorField(cause))

	if err := o.repo.MarkFailed(asset.PublicID, attempts, cause.Error()); err != nil {
		logger.Error("Failed to persist FAILED status",
			logger.String("assetId", asset.PublicID),
			logger.ErrorField(err))
	} else {
		o.publishEvent(ctx, asset, model.StatusFailed)
	}
	return cause
}

func (o *Orchestrator) heartbeat(assetID string) {
	if err := o.repo.Heartbeat(assetID); err != nil {
		logger.Warn("Failed to record heartbeat", logger.String("assetId", assetID), logger.ErrorField(err))
	}
}

// publishEvent emits a post-commit event; delivery problems are logged,
// never escalated.
func (o *Orchestrator) publishEvent(ctx context.Context, asset *model.AudioAsset, status model.ProcessingStatus) {
	if o.events == nil {
		return
	}
	ev := events.Event{
		AssetID: asset.PublicID,
		TrackID: asset.TrackID,
		Status:  status.String(),
		At:      time.Now(),
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		logger.Warn("Failed to publish status event",
			logger.String("assetId", asset.PublicID),
			logger.ErrorField(err))
	}
}
