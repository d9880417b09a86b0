package models

import "encoding/json"

// Metadata is the persisted subset of a processing result. Detections are
// deliberately excluded to bound row size. Extra carries user-supplied keys
// merged in later via metadata patches.
type Metadata struct {
	Input               string
	OutputImage         string
	Mode                string
	ConfidenceThreshold float64
	Device              string
	Count               *int
	Extra               map[string]any
}

// AsMap flattens the metadata into the persisted JSON object shape. Extra
// keys override the fixed fields.
func (m Metadata) AsMap() map[string]any {
	out := map[string]any{
		"input":                m.Input,
		"output_image":         m.OutputImage,
		"mode":                 m.Mode,
		"confidence_threshold": m.ConfidenceThreshold,
		"device":               m.Device,
	}
	if m.Count != nil {
		out["count"] = *m.Count
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// MarshalJSON serializes the flattened map form.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.AsMap())
}

// ProcessResult is the full outcome of one pipeline run. It is assembled once
// and never mutated afterwards.
type ProcessResult struct {
	Count       int         `json:"count"`
	Input       string      `json:"input"`
	OutputImage string      `json:"output_image"`
	Mode        string      `json:"mode"`
	Confidence  float64     `json:"confidence_threshold"`
	Device      string      `json:"device"`
	Detections  []Detection `json:"detections"`

	// Annotated image bytes and the container extension actually used
	// (".jpg" or the ".png" fallback). Not serialized.
	OutputBytes []byte `json:"-"`
	OutputExt   string `json:"-"`
}

// Metadata strips the detections down to the persisted metadata record.
func (r *ProcessResult) Metadata() Metadata {
	count := r.Count
	return Metadata{
		Input:               r.Input,
		OutputImage:         r.OutputImage,
		Mode:                r.Mode,
		ConfidenceThreshold: r.Confidence,
		Device:              r.Device,
		Count:               &count,
	}
}
