package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"peoplecounter/internal/models"
	"peoplecounter/internal/repository"
)

// ImageRepository implements repository.ImageRepository for SQLite.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// InsertIfAbsent inserts the image, skipping the write when a row with the
// same fingerprint already exists. The conflict is resolved at the store, so
// concurrent writers of identical content converge on a single row. The
// returned id is the existing row's id when this writer lost the race.
func (r *ImageRepository) InsertIfAbsent(img *models.StoredImage) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	meta, err := json.Marshal(img.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata: %w", err)
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO images (input_filename, output_filename, metadata, input_image, output_image, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING
	`, img.InputFilename, img.OutputFilename, string(meta), img.InputImage, img.OutputImage, img.Fingerprint)
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return result.LastInsertId()
	}

	// A concurrent writer won the race; re-read the existing row's id.
	var id int64
	err = r.db.Conn().QueryRow(`
		SELECT id FROM images WHERE fingerprint = ? LIMIT 1
	`, img.Fingerprint).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read existing image id: %w", err)
	}
	return id, nil
}

// GetByFingerprint retrieves an image by its content fingerprint. Returns
// (nil, nil) when no row matches.
func (r *ImageRepository) GetByFingerprint(fp string) (*models.StoredImage, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	return r.scanOne(r.db.Conn().QueryRow(`
		SELECT id, created_at, input_filename, output_filename, metadata, input_image, output_image, fingerprint
		FROM images WHERE fingerprint = ? LIMIT 1
	`, fp))
}

// GetByID retrieves an image by its ID, or repository.ErrNotFound.
func (r *ImageRepository) GetByID(id int64) (*models.StoredImage, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	img, err := r.scanOne(r.db.Conn().QueryRow(`
		SELECT id, created_at, input_filename, output_filename, metadata, input_image, output_image, fingerprint
		FROM images WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, repository.ErrNotFound
	}
	return img, nil
}

func (r *ImageRepository) scanOne(row *sql.Row) (*models.StoredImage, error) {
	var (
		img         models.StoredImage
		meta        sql.NullString
		fingerprint sql.NullString
	)
	err := row.Scan(&img.ID, &img.CreatedAt, &img.InputFilename, &img.OutputFilename,
		&meta, &img.InputImage, &img.OutputImage, &fingerprint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan image: %w", err)
	}

	img.Fingerprint = fingerprint.String
	img.Metadata = decodeMetadata(meta)
	return &img, nil
}

// List retrieves image summaries, newest first.
func (r *ImageRepository) List(page, perPage int) ([]models.ImageSummary, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	offset := (page - 1) * perPage

	rows, err := r.db.Conn().Query(`
		SELECT id, created_at, input_filename, metadata
		FROM images
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []models.ImageSummary
	for rows.Next() {
		var (
			summary models.ImageSummary
			meta    sql.NullString
		)
		if err := rows.Scan(&summary.ID, &summary.CreatedAt, &summary.InputFilename, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan image summary: %w", err)
		}
		summary.Metadata = decodeMetadata(meta)
		images = append(images, summary)
	}

	return images, rows.Err()
}

// PatchMetadata shallow-merges patch into the stored metadata object.
// Incoming keys override existing ones.
func (r *ImageRepository) PatchMetadata(id int64, patch map[string]any) (map[string]any, error) {
	r.db.Lock()
	defer r.db.Unlock()

	var meta sql.NullString
	err := r.db.Conn().QueryRow(`SELECT metadata FROM images WHERE id = ? LIMIT 1`, id).Scan(&meta)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	merged := decodeMetadata(meta)
	for k, v := range patch {
		merged[k] = v
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	if _, err := r.db.Conn().Exec(`UPDATE images SET metadata = ? WHERE id = ?`, string(encoded), id); err != nil {
		return nil, fmt.Errorf("failed to update metadata: %w", err)
	}

	return merged, nil
}

// decodeMetadata parses the stored JSON object, tolerating legacy rows with
// missing or malformed metadata.
func decodeMetadata(meta sql.NullString) map[string]any {
	out := map[string]any{}
	if !meta.Valid || meta.String == "" {
		return out
	}
	if err := json.Unmarshal([]byte(meta.String), &out); err != nil {
		return map[string]any{}
	}
	return out
}
