package dto

// PatchMetadataResponse returns the merged metadata after a patch.
type PatchMetadataResponse struct {
	ID       int64          `json:"id"`
	Metadata map[string]any `json:"metadata"`
}
