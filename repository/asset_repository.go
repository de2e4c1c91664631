package repository

import (
	"errors"
	"fmt"
	"time"

	"resonate/model"

	"gorm.io/gorm"
)

// ErrAssetNotFound is returned when no asset exists for the given id.
var ErrAssetNotFound = errors.New("audio asset not found")

// ErrNotCompleted is returned when an operation requires a COMPLETED asset.
var ErrNotCompleted = errors.New("audio asset is not completed")

// Completion carries everything that must become visible in one durable
// unit when an asset transitions to COMPLETED.
type Completion struct {
	ManifestRef  string
	WaveformRef  *string
	DurationMS   uint
	BitrateKbps  uint
	SampleRateHz uint
	ChannelCount uint
	RawProbe     string
	Renditions   []model.Rendition
}

// AssetRepository defines the persistence operations of the ingestion
// pipeline. The AudioAsset row is the only shared mutable state between
// concurrent pipeline runs, so every status change goes through a
// compare-and-swap update here.
type AssetRepository interface {
	CreateWithTrack(track *model.Track, asset *model.AudioAsset) error
	GetByPublicID(publicID string) (*model.AudioAsset, error)

	// MarkProcessing CAS-transitions the asset into PROCESSING. The loser of
	// a concurrent race observes an InvalidTransitionError and must exit
	// without redoing work.
	MarkProcessing(publicID string) error
	// MarkFailed CAS-transitions the asset into FAILED, recording the error
	// and attempt count. Prior fields are left untouched for diagnostics.
	MarkFailed(publicID string, attempts int, cause string) error
	// Complete atomically persists renditions, manifest ref and technical
	// metadata and flips status to COMPLETED in a single transaction. No
	// observer may ever see COMPLETED with a missing manifest.
	Complete(publicID string, c Completion) error

	// Heartbeat records pipeline liveness for the watchdog.
	Heartbeat(publicID string) error
	// FindStaleProcessing returns public ids of PROCESSING assets whose
	// heartbeat is older than cutoff.
	FindStaleProcessing(cutoff time.Time) ([]string, error)

	// Publish flips the visibility flag. Only valid on COMPLETED assets.
	Publish(publicID string) error
}

// gormAssetRepository implements AssetRepository on a GORM handle.
type gormAssetRepository struct {
	db *gorm.DB
}

// NewGormAssetRepository creates a new AssetRepository.
func NewGormAssetRepository(db *gorm.DB) AssetRepository {
	return &gormAssetRepository{db: db}
}

// CreateWithTrack persists the owning track (when new) and its asset in one
// transaction.
func (r *gormAssetRepository) CreateWithTrack(track *model.Track, asset *model.AudioAsset) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if track != nil && track.ID == 0 {
			if err := tx.Create(track).Error; err != nil {
				return fmt.Errorf("failed to create track: %w", err)
			}
			asset.TrackID = track.ID
		}
		if err := tx.Create(asset).Error; err != nil {
			return fmt.Errorf("failed to create audio asset: %w", err)
		}
		return nil
	})
}

// GetByPublicID loads the asset with its renditions, highest bitrate last.
func (r *gormAssetRepository) GetByPublicID(publicID string) (*model.AudioAsset, error) {
	var asset model.AudioAsset
	err := r.db.Preload("Renditions", func(db *gorm.DB) *gorm.DB {
		return db.Order("bitrate_kbps ASC")
	}).Where("public_id = ?", publicID).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to load audio asset %s: %w", publicID, err)
	}
	return &asset, nil
}

// transitionSources lists the statuses the state machine allows as sources
// for a transition to target.
func transitionSources(target model.ProcessingStatus) []model.ProcessingStatus {
	all := []model.ProcessingStatus{model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed}
	var sources []model.ProcessingStatus
	for _, s := range all {
		if s.CanTransitionTo(target) {
			sources = append(sources, s)
		}
	}
	return sources
}

// casTransition performs the conditional status update. A zero rows-affected
// result means the asset either vanished or sits in a status the state
// machine forbids as a source; the current row decides which error.
func (r *gormAssetRepository) casTransition(tx *gorm.DB, publicID string, target model.ProcessingStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":       target,
		"heartbeat_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&model.AudioAsset{}).
		Where("public_id = ? AND status IN ?", publicID, transitionSources(target)).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to transition asset %s to %s: %w", publicID, target, res.Error)
	}
	if res.RowsAffected == 0 {
		var current model.AudioAsset
		if err := tx.Select("status").Where("public_id = ?", publicID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssetNotFound
			}
			return fmt.Errorf("failed to inspect asset %s after losing transition: %w", publicID, err)
		}
		return &model.InvalidTransitionError{From: current.Status, To: target}
	}
	return nil
}

func (r *gormAssetRepository) MarkProcessing(publicID string) error {
	return r.casTransition(r.db, publicID, model.StatusProcessing, nil)
}

func (r *gormAssetRepository) MarkFailed(publicID string, attempts int, cause string) error {
	return r.casTransition(r.db, publicID, model.StatusFailed, map[string]interface{}{
		"attempts":   attempts,
		"last_error": cause,
	})
}

// Complete runs the atomic completion transaction: the CAS status flip and
// the rendition rows commit together or not at all.
func (r *gormAssetRepository) Complete(publicID string, c Completion) error {
	if c.ManifestRef == "" || len(c.Renditions) == 0 {
		return fmt.Errorf("completion requires a manifest ref and at least one rendition")
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		var asset model.AudioAsset
		if err := tx.Select("id").Where("public_id = ?", publicID).First(&asset).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssetNotFound
			}
			return fmt.Errorf("failed to load asset %s for completion: %w", publicID, err)
		}

		err := r.casTransition(tx, publicID, model.StatusCompleted, map[string]interface{}{
			"manifest_ref":   c.ManifestRef,
			"waveform_ref":   c.WaveformRef,
			"duration_ms":    c.DurationMS,
			"bitrate_kbps":   c.BitrateKbps,
			"sample_rate_hz": c.SampleRateHz,
			"channel_count":  c.ChannelCount,
			"raw_probe":      c.RawProbe,
		})
		if err != nil {
			return err
		}

		for i := range c.Renditions {
			c.Renditions[i].AudioAssetID = asset.ID
		}
		if err := tx.Create(&c.Renditions).Error; err != nil {
			return fmt.Errorf("failed to create renditions for %s: %w", publicID, err)
		}
		return nil
	})
}

func (r *gormAssetRepository) Heartbeat(publicID string) error {
	err := r.db.Model(&model.AudioAsset{}).
		Where("public_id = ?", publicID).
		Update("heartbeat_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("failed to heartbeat asset %s: %w", publicID, err)
	}
	return nil
}

func (r *gormAssetRepository) FindStaleProcessing(cutoff time.Time) ([]string, error) {
	var ids []string
	err := r.db.Model(&model.AudioAsset{}).
		Where("status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", model.StatusProcessing, cutoff).
		Pluck("public_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to scan for stale processing assets: %w", err)
	}
	return ids, nil
}

func (r *gormAssetRepository) Publish(publicID string) error {
	res := r.db.Model(&model.AudioAsset{}).
		Where("public_id = ? AND status = ?", publicID, model.StatusCompleted).
		Update("published", true)
	if res.Error != nil {
		return fmt.Errorf("failed to publish asset %s: %w", publicID, res.Error)
	}
	if res.RowsAffected == 0 {
		var current model.AudioAsset
		if err := r.db.Select("status", "published").Where("public_id = ?", publicID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssetNotFound
			}
			return fmt.Errorf("failed to inspect asset %s: %w", publicID, err)
		}
		// MySQL reports zero affected rows for a no-op update, so an
		// already-published asset lands here too.
		if current.Status == model.StatusCompleted && current.Published {
			return nil
		}
		return ErrNotCompleted
	}
	return nil
}
