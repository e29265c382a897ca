package dbmysql

import "time"

// MediaRef records a file held by the media store so posts and avatars can be
// cleaned up later.
type MediaRef struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	StorageID   string    `gorm:"size:255;uniqueIndex" json:"storageId"` // GridFS ObjectID hex or Cloudinary public id
	Driver      string    `gorm:"size:20" json:"driver"`
	Type        string    `gorm:"size:20" json:"type"`
	FileName    string    `gorm:"size:255" json:"fileName"`
	ContentType string    `gorm:"size:100" json:"contentType"`
	URL         string    `gorm:"size:512" json:"url"`
	Size        int64     `json:"size"`
	UploadedBy  string    `gorm:"size:36;index" json:"uploadedBy"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (MediaRef) TableName() string {
	return "media_refs"
}
