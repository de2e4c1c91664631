package model

import "time"

// AudioAsset represents the master audio file of a track and its technical
// metadata. One asset exists per track; it is mutated exclusively by the
// ingestion pipeline and deleted only by cascade from its owning track.
type AudioAsset struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	PublicID string `gorm:"type:char(36);uniqueIndex;not null" json:"id"`
	TrackID  uint64 `gorm:"uniqueIndex;not null" json:"trackId"`
	Track    *Track `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	Status ProcessingStatus `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`

	// OriginalRef is the storage path of the uploaded master file. It is set
	// exactly once, at upload-completion time, and never overwritten by the
	// pipeline.
	OriginalRef string  `gorm:"type:varchar(512);not null" json:"originalRef"`
	ManifestRef *string `gorm:"type:varchar(512)" json:"manifestRef,omitempty"`
	WaveformRef *string `gorm:"type:varchar(512)" json:"waveformRef,omitempty"`

	// Technical metadata, filled in by the probe step.
	DurationMS   uint   `json:"durationMs"`
	BitrateKbps  uint   `json:"bitrateKbps"`
	SampleRateHz uint   `json:"sampleRateHz"`
	ChannelCount uint   `json:"channelCount"`
	RawProbe     string `gorm:"type:json" json:"-"` // full prober output, kept for diagnostics

	// Published is the visibility flag, separate from processing status so a
	// review gate can sit between COMPLETED and listeners seeing the track.
	Published bool `gorm:"not null;default:false" json:"published"`

	// Failure bookkeeping.
	Attempts  int    `gorm:"not null;default:0" json:"attempts"`
	LastError string `gorm:"type:varchar(1024)" json:"-"`

	// HeartbeatAt is touched by the pipeline at stage boundaries; the
	// watchdog re-enqueues PROCESSING assets whose heartbeat went stale.
	HeartbeatAt *time.Time `json:"-"`

	Renditions []Rendition `gorm:"constraint:OnDelete:CASCADE" json:"renditions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Rendition is one bitrate-specific transcoded output of an audio asset.
type Rendition struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	AudioAssetID uint64 `gorm:"not null;uniqueIndex:uniq_asset_bitrate_format,priority:1" json:"-"`
	BitrateKbps  int    `gorm:"not null;uniqueIndex:uniq_asset_bitrate_format,priority:2" json:"bitrateKbps"`
	Format       string `gorm:"type:varchar(16);not null;uniqueIndex:uniq_asset_bitrate_format,priority:3" json:"format"`
	StorageRef   string `gorm:"type:varchar(512);not null" json:"storageRef"`

	CreatedAt time.Time `json:"createdAt"`
}

// FormatHLS is the only rendition format produced today.
const FormatHLS = "hls"
