package dbmysql

import "time"

const (
	StreamStatusLive  = "live"
	StreamStatusEnded = "ended"
)

type LiveStream struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	CreatorID       string     `gorm:"size:36;not null;index" json:"creatorId"`
	LiveCreatorID   *string    `gorm:"size:36;uniqueIndex" json:"-"` // set while live, NULL once ended
	CreatorName     string     `gorm:"size:100" json:"creatorName"`
	Title           string     `gorm:"size:100;not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	Category        string     `gorm:"size:50;index" json:"category"`
	Privacy         string     `gorm:"size:16;default:'public'" json:"privacy"`
	EnableChat      bool       `gorm:"default:true" json:"enableChat"`
	EnableTips      bool       `gorm:"default:true" json:"enableTips"`
	Status          string     `gorm:"size:10;index;default:'live'" json:"status"`
	StartedAt       time.Time  `json:"startedAt"`
	LastHeartbeat   time.Time  `json:"-"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	PeakViewers     int64      `json:"peakViewers"`
	TotalViewers    int64      `json:"totalViewers"`
	ChatCount       int64      `json:"chatCount"`
	TotalTips       int64      `json:"totalTips"` // cents
	DurationSeconds int64      `json:"durationSeconds"`
	AvgViewers      float64    `json:"avgViewers"`

	CurrentViewers int64 `gorm:"-" json:"currentViewers"`
}
