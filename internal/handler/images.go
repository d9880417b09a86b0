package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"peoplecounter/internal/dto"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/models"
	"peoplecounter/internal/repository"
)

// requireStore maps a missing backing store to the persistence sentinel.
func requireStore(repo repository.ImageRepository) error {
	if repo == nil {
		return repository.ErrStoreUnavailable
	}
	return nil
}

// GetImageHandler serves a stored annotated image by id.
func GetImageHandler(repo repository.ImageRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireStore(repo); errors.Is(err, repository.ErrStoreUnavailable) {
			writeError(w, "store_unavailable", "No backing store configured", http.StatusServiceUnavailable)
			return
		}

		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, "invalid_id", "Image id must be an integer", http.StatusBadRequest)
			return
		}

		img, err := repo.GetByID(id)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "not_found", "Image not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Failed to load image %d: %v", id, err)
			writeError(w, "store_error", "Failed to load image", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentTypeForExt(filepath.Ext(img.OutputFilename)))
		w.Write(img.OutputImage)
	}
}

// ListImagesHandler returns paginated image summaries, newest first. Without
// a backing store the listing is empty rather than an error.
func ListImagesHandler(repo repository.ImageRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		perPage := atoiDefault(q.Get("per_page"), 20)

		response := dto.ImageListResponse{
			Images:  []models.ImageSummary{},
			Page:    page,
			PerPage: perPage,
		}

		if repo == nil {
			writeJSON(w, http.StatusOK, response)
			return
		}

		images, err := repo.List(page, perPage)
		if err != nil {
			logger.Error("Failed to list images: %v", err)
			writeError(w, "store_error", "Failed to list images", http.StatusInternalServerError)
			return
		}
		if images != nil {
			response.Images = images
		}

		writeJSON(w, http.StatusOK, response)
	}
}

// PatchMetadataHandler shallow-merges the request body into the stored
// metadata for an image; incoming keys win.
func PatchMetadataHandler(repo repository.ImageRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireStore(repo); errors.Is(err, repository.ErrStoreUnavailable) {
			writeError(w, "store_unavailable", "No backing store configured", http.StatusServiceUnavailable)
			return
		}

		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, "invalid_id", "Image id must be an integer", http.StatusBadRequest)
			return
		}

		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, "invalid_payload", "Body must be a JSON object", http.StatusBadRequest)
			return
		}

		merged, err := repo.PatchMetadata(id, patch)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "not_found", "Image not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("Failed to patch metadata for %d: %v", id, err)
			writeError(w, "store_error", "Failed to update metadata", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, dto.PatchMetadataResponse{ID: id, Metadata: merged})
	}
}
