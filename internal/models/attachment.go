package models

// Attachment is metadata for an uploaded blob. MessageID stays nil until a
// message references the upload.
type Attachment struct {
	ID          string  `gorm:"primaryKey"`
	MessageID   *string `gorm:"index"`
	Filename    string  `gorm:"not null"`
	MimeType    string  `gorm:"not null"`
	Size        int64   `gorm:"not null"`
	StoragePath string  `gorm:"not null;uniqueIndex"`
	CreatedAt   int64   `gorm:"not null;autoCreateTime:milli;index"`
}
