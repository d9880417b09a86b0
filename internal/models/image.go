package models

import "time"

// StoredImage is a persisted processing result. There is exactly one row per
// distinct input fingerprint; the unique index on fingerprint enforces it.
type StoredImage struct {
	ID             int64          `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	InputFilename  string         `json:"input_filename"`
	OutputFilename string         `json:"output_filename"`
	Metadata       map[string]any `json:"metadata"`
	InputImage     []byte         `json:"-"`
	OutputImage    []byte         `json:"-"`
	Fingerprint    string         `json:"fingerprint"`
}

// ImageSummary is the listing shape: no image blobs, metadata only.
type ImageSummary struct {
	ID            int64          `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	InputFilename string         `json:"input_filename"`
	Metadata      map[string]any `json:"metadata"`
}
