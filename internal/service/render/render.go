// Package render draws detection annotations: one colored rectangle per
// person, optional translucent mask overlays, per-person labels and a
// total-count banner.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/models"
)

const (
	maskAlpha   = 0.25
	bannerAlpha = 0.4
	bannerPad   = 10

	// paletteSeed offsets the per-detection color generator so index 0
	// does not start from the zero seed.
	paletteSeed = 12345
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 0}
var black = color.RGBA{R: 0, G: 0, B: 0, A: 0}

// Options control annotation geometry and style.
type Options struct {
	Thickness    int
	ShowLabels   bool
	BannerCorner string // top_left, top_right, bottom_left, bottom_right
}

// Renderer annotates images. It is stateless and safe for concurrent use.
type Renderer struct {
	opts Options
}

// New creates a renderer from the configured style options.
func New(cfg *config.Config) *Renderer {
	return &Renderer{opts: Options{
		Thickness:    cfg.LineThickness,
		ShowLabels:   cfg.ShowLabels,
		BannerCorner: cfg.BannerCorner,
	}}
}

// NewWithOptions creates a renderer with explicit options.
func NewWithOptions(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Annotate decodes the source bytes, draws all detections plus the count
// banner onto a copy, and re-encodes into ext (".jpg" or ".png"). If the
// requested container fails to encode it falls back to PNG. The caller's
// bytes are never modified.
func (r *Renderer) Annotate(imageBytes []byte, detections []models.Detection, ext string) ([]byte, string, error) {
	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, "", fmt.Errorf("decoded image is empty")
	}

	for _, det := range detections {
		c := colorFromIndex(det.ID - 1)

		var label string
		if r.opts.ShowLabels {
			if det.Score != nil {
				label = fmt.Sprintf("Person #%d (%.2f)", det.ID, *det.Score)
			} else {
				label = fmt.Sprintf("Person #%d", det.ID)
			}
		}
		r.drawBox(&mat, det.Box, c, label)

		if len(det.Polygons) > 0 {
			r.drawMaskOverlay(&mat, det.Polygons, c)
		}
	}

	r.drawTotalBanner(&mat, len(detections))

	return encode(mat, normalizeExt(ext))
}

// drawBox draws the bounding rectangle and, when label is non-empty, a
// filled label background above the top-left corner, clamped to the image
// top edge.
func (r *Renderer) drawBox(mat *gocv.Mat, box models.BoundingBox, c color.RGBA, label string) {
	x1, y1 := int(box[0]), int(box[1])
	x2, y2 := int(box[2]), int(box[3])

	gocv.Rectangle(mat, image.Rect(x1, y1, x2, y2), c, r.opts.Thickness)

	if label == "" {
		return
	}

	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.55, 2)
	ty := y1 - size.Y - 6
	if ty < 0 {
		ty = 0
	}
	gocv.Rectangle(mat, image.Rect(x1, ty, x1+size.X+8, ty+size.Y+6), c, -1)
	gocv.PutText(mat, label, image.Pt(x1+4, ty+size.Y+1), gocv.FontHersheySimplex, 0.55, white, 2)
}

// drawMaskOverlay fills the mask polygons with a translucent copy of the
// color and strokes their outlines. Polygons with fewer than 3 points are
// degenerate and skipped.
func (r *Renderer) drawMaskOverlay(mat *gocv.Mat, polygons []models.Polygon, c color.RGBA) {
	drawable := make([][]image.Point, 0, len(polygons))
	for _, polygon := range polygons {
		if len(polygon) < 3 {
			continue
		}
		points := make([]image.Point, 0, len(polygon))
		for _, p := range polygon {
			points = append(points, image.Pt(int(p[0]), int(p[1])))
		}
		drawable = append(drawable, points)
	}
	if len(drawable) == 0 {
		return
	}

	overlay := mat.Clone()
	defer overlay.Close()

	pts := gocv.NewPointsVectorFromPoints(drawable)
	defer pts.Close()

	gocv.FillPoly(&overlay, pts, c)
	gocv.Polylines(mat, pts, true, c, r.opts.Thickness)
	gocv.AddWeighted(overlay, maskAlpha, *mat, 1-maskAlpha, 0, mat)
}

// drawTotalBanner overlays the person count on a semi-transparent background
// at the configured corner.
func (r *Renderer) drawTotalBanner(mat *gocv.Mat, total int) {
	label := fmt.Sprintf("Total de pessoas: %d", total)
	size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.9, 2)

	w := mat.Cols()
	h := mat.Rows()

	var x, y int
	switch r.opts.BannerCorner {
	case "top_right":
		x, y = w-(size.X+2*bannerPad)-12, 12
	case "bottom_left":
		x, y = 12, h-(size.Y+2*bannerPad)-12
	case "bottom_right":
		x, y = w-(size.X+2*bannerPad)-12, h-(size.Y+2*bannerPad)-12
	default: // top_left
		x, y = 12, 12
	}

	overlay := mat.Clone()
	defer overlay.Close()

	gocv.Rectangle(&overlay, image.Rect(x, y, x+size.X+2*bannerPad, y+size.Y+2*bannerPad), black, -1)
	gocv.AddWeighted(overlay, bannerAlpha, *mat, 1-bannerAlpha, 0, mat)

	gocv.PutText(mat, label, image.Pt(x+bannerPad, y+size.Y+bannerPad-2), gocv.FontHersheySimplex, 0.9, white, 2)
}

// colorFromIndex generates a stable color from a 0-based detection index.
// The same index always maps to the same color across runs.
func colorFromIndex(idx int) color.RGBA {
	rng := rand.New(rand.NewSource(int64(idx) + paletteSeed))
	return color.RGBA{
		R: uint8(rng.Intn(256)),
		G: uint8(rng.Intn(256)),
		B: uint8(rng.Intn(256)),
		A: 0,
	}
}

// normalizeExt restricts the output container to jpg or png.
func normalizeExt(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return ".jpg"
	case ".png":
		return ".png"
	default:
		return ".jpg"
	}
}

// encode serializes the image, falling back to PNG when the requested
// container is rejected by the codec.
func encode(mat gocv.Mat, ext string) ([]byte, string, error) {
	buf, err := gocv.IMEncode(gocv.FileExt(ext), mat)
	if err != nil && ext != ".png" {
		ext = ".png"
		buf, err = gocv.IMEncode(gocv.FileExt(ext), mat)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, ext, nil
}
