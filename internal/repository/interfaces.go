package repository

import (
	"errors"

	"peoplecounter/internal/models"
)

// ErrNotFound is returned when a lookup or patch references an unknown id.
var ErrNotFound = errors.New("image not found")

// ErrStoreUnavailable is returned by operations whose entire purpose is
// persistence when no backing store is configured.
var ErrStoreUnavailable = errors.New("store unavailable")

// ImageRepository defines the interface for deduplicated image storage.
type ImageRepository interface {
	// InsertIfAbsent attempts to insert the image. On a fingerprint
	// conflict it does not error: the existing row's id is returned, so
	// concurrent identical uploads resolve to exactly one row.
	InsertIfAbsent(img *models.StoredImage) (int64, error)

	// GetByFingerprint returns the stored image for a fingerprint, or
	// (nil, nil) when no such row exists.
	GetByFingerprint(fp string) (*models.StoredImage, error)

	// GetByID returns the stored image or ErrNotFound.
	GetByID(id int64) (*models.StoredImage, error)

	// List returns image summaries, newest first.
	List(page, perPage int) ([]models.ImageSummary, error)

	// PatchMetadata shallow-merges patch into the stored metadata, with
	// incoming keys winning, and returns the merged object. Returns
	// ErrNotFound for an unknown id.
	PatchMetadata(id int64, patch map[string]any) (map[string]any, error)
}
