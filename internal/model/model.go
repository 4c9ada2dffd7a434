package model

import (
	"time"
)

// Notification is a locally cached notification.
type Notification struct {
	ID        string     `json:"id"                 gorm:"primaryKey"`
	BucketID  string     `json:"bucketId"           gorm:"index;not null"`
	Title     string     `json:"title"`
	Subtitle  string     `json:"subtitle,omitempty"`
	Body      string     `json:"body,omitempty"`
	ImageURL  string     `json:"imageUrl,omitempty"`
	CreatedAt time.Time  `json:"createdAt"          gorm:"index;not null;autoCreateTime:false"`
	UpdatedAt time.Time  `json:"updatedAt"          gorm:"not null;autoUpdateTime:false"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	// Synced is true once the record has been observed on the server. Records saved by the
	// notification service extension and never confirmed remotely stay false.
	Synced bool `json:"synced"             gorm:"not null;default:false"`
}

func (Notification) TableName() string { return "notifications" }

// Bucket is a notification channel the user is subscribed to.
type Bucket struct {
	ID        string    `json:"id"                gorm:"primaryKey"`
	Name      string    `json:"name"              gorm:"not null"`
	IconURL   string    `json:"iconUrl,omitempty"`
	Color     string    `json:"color,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"         gorm:"not null;autoUpdateTime:false"`
}

func (Bucket) TableName() string { return "buckets" }

// MediaType classifies a cached media blob.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
	MediaTypeIcon  MediaType = "icon"
	MediaTypeOther MediaType = "other"
)

// MediaItem is the metadata row of one cached media blob.
type MediaItem struct {
	Key            string     `json:"key"                      gorm:"primaryKey;column:cache_key"`
	URL            string     `json:"url"                      gorm:"not null"`
	BucketID       string     `json:"bucketId,omitempty"       gorm:"index"`
	NotificationID string     `json:"notificationId,omitempty" gorm:"index"`
	MediaType      MediaType  `json:"mediaType"                gorm:"not null"`
	ContentType    string     `json:"contentType,omitempty"`
	Size           int64      `json:"size"`
	StorageKey     string     `json:"storageKey"               gorm:"not null"`
	DownloadedAt   time.Time  `json:"downloadedAt"             gorm:"not null"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

func (MediaItem) TableName() string { return "media_items" }

// LastUsed returns the last access time, falling back to the download time.
func (m MediaItem) LastUsed() time.Time {
	if m.LastAccessedAt != nil && !m.LastAccessedAt.IsZero() {
		return *m.LastAccessedAt
	}
	return m.DownloadedAt
}

// Setting is one row of the key/value settings table.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:setting_key"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Setting) TableName() string { return "settings" }

// DeviceVersionsInfo is sent to the backend as the device's metadata.
type DeviceVersionsInfo struct {
	AppVersion     string `json:"appVersion"`
	DockerVersion  string `json:"dockerVersion,omitempty"`
	NativeVersion  string `json:"nativeVersion,omitempty"`
	BackendVersion string `json:"backendVersion,omitempty"`
}

// AuthData is the credential material the maintenance stages depend on.
type AuthData struct {
	AccessToken string
	DeviceID    string
	DeviceToken string
}
