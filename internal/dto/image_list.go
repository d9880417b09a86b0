package dto

import "peoplecounter/internal/models"

// ImageListResponse is the paginated listing payload.
type ImageListResponse struct {
	Images  []models.ImageSummary `json:"images"`
	Page    int                   `json:"page"`
	PerPage int                   `json:"per_page"`
}
