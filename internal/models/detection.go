package models

// Annotation modes accepted on the wire.
const (
	ModeSegment = "seg"  // boxes plus mask outlines when the model provides them
	ModeBox     = "bbox" // boxes only
)

// ValidMode reports whether mode is one of the accepted annotation modes.
func ValidMode(mode string) bool {
	return mode == ModeSegment || mode == ModeBox
}

// Point is a single polygon vertex in pixel coordinates, serialized as [x, y].
type Point [2]float64

// Polygon is one closed segment of a detection mask outline.
type Polygon []Point

// BoundingBox holds pixel coordinates as [x1, y1, x2, y2] with x1<=x2, y1<=y2.
type BoundingBox [4]float64

// Detection represents one person found in an image. IDs are 1-based and
// follow the model's output order.
type Detection struct {
	ID       int         `json:"id"`
	Score    *float64    `json:"score"`
	Box      BoundingBox `json:"bbox"`
	Polygons []Polygon   `json:"polygons,omitempty"`
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() float64 {
	return b[2] - b[0]
}

// Height returns the box height in pixels.
func (b BoundingBox) Height() float64 {
	return b[3] - b[1]
}
