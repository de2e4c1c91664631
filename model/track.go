package model

import "time"

// Track represents the catalog entry an audio asset belongs to. The full
// catalog (albums, artists, search) lives in the surrounding system; the
// ingestion service only needs the owning row for the 1:1 cascade.
type Track struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Artist    string    `gorm:"type:varchar(255)" json:"artist"`
	Album     string    `gorm:"type:varchar(255)" json:"album"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
