package ai

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/models"
)

const (
	// maskThreshold binarizes the model's soft mask output before contour
	// extraction.
	maskThreshold = 0.5

	maskOutputLayer      = "detection_masks"
	detectionOutputLayer = "detection_out_final"
)

// ErrModelUnavailable is returned when the detection network could not be
// loaded. Fatal for the request, never retried silently.
var ErrModelUnavailable = errors.New("detection model unavailable")

// ErrInvalidImage is returned when the submitted bytes do not decode to an image.
var ErrInvalidImage = errors.New("invalid image data")

// Detector wraps the detection network. It restricts output to the person
// class and, when the loaded model exposes a mask output, derives per-person
// region outlines. A single Detector is not safe for concurrent Detect calls;
// the pipeline pools instances.
type Detector struct {
	net           gocv.Net
	loaded        bool
	hasMasks      bool
	modelPath     string
	configPath    string
	personClassID int
	device        string
	logger        *logger.Logger
}

// NewDetector creates a detector. A failed model load is reported as a
// warning here and as ErrModelUnavailable on Detect, so the server still
// starts and serves store reads.
func NewDetector(cfg *config.Config, logger *logger.Logger) *Detector {
	d := &Detector{
		modelPath:     cfg.ModelPath,
		configPath:    cfg.ModelConfigPath,
		personClassID: cfg.PersonClassID,
		device:        "cpu",
		logger:        logger,
	}

	if err := d.initializeNet(cfg.Device); err != nil {
		d.logger.Warning("Could not initialize detection network: %v", err)
		return d
	}

	return d
}

// initializeNet loads the network from the model and config files.
func (d *Detector) initializeNet(device string) error {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", d.modelPath)
	}

	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", d.configPath)
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}

	d.net = net
	d.loaded = true
	d.hasMasks = d.findMaskLayer()
	d.configureBackend(device)

	d.logger.Info("Detection network initialized (device=%s, masks=%v)", d.device, d.hasMasks)
	return nil
}

// findMaskLayer reports whether the loaded graph exposes a mask output.
func (d *Detector) findMaskLayer() bool {
	for _, name := range d.net.GetLayerNames() {
		if name == maskOutputLayer {
			return true
		}
	}
	return false
}

// configureBackend applies the device hint. An empty hint means auto: try
// the accelerator first. An unavailable accelerator never fails the
// detector; it falls back to the default CPU backend.
func (d *Detector) configureBackend(device string) {
	if wantsAccelerator(device) {
		errBackend := d.net.SetPreferableBackend(gocv.NetBackendCUDA)
		errTarget := d.net.SetPreferableTarget(gocv.NetTargetCUDA)
		if errBackend == nil && errTarget == nil {
			if device == "" {
				device = "cuda"
			}
			d.device = device
			return
		}
		d.logger.Warning("CUDA backend unavailable, falling back to CPU")
	}

	if err := d.net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		d.logger.Warning("Failed to set default backend: %v", err)
	}
	if err := d.net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		d.logger.Warning("Failed to set CPU target: %v", err)
	}
	d.device = "cpu"
}

// wantsAccelerator reports whether the hint asks for CUDA, explicitly or
// through the empty auto hint.
func wantsAccelerator(device string) bool {
	return device == "" || strings.HasPrefix(device, "cuda")
}

// Device returns the device the detector actually runs on.
func (d *Detector) Device() string {
	return d.device
}

// Close releases the network.
func (d *Detector) Close() {
	if d.loaded {
		d.net.Close()
		d.loaded = false
	}
}

// Detect runs person detection on the raw image bytes. Decoding applies the
// camera's EXIF rotation, so returned geometry matches the visual content.
// In seg mode it also extracts mask outlines when the model provides them;
// models without a mask output degrade to empty outlines rather than failing.
func (d *Detector) Detect(imageBytes []byte, mode string, conf float64) ([]models.Detection, error) {
	if !d.loaded || d.net.Empty() {
		return nil, ErrModelUnavailable
	}

	mat, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, ErrInvalidImage
	}

	blob := d.blobFromImage(mat)
	defer blob.Close()

	d.net.SetInput(blob, "")

	var output, masks gocv.Mat
	wantMasks := mode == models.ModeSegment && d.hasMasks
	if wantMasks {
		outputs := d.net.ForwardLayers([]string{detectionOutputLayer, maskOutputLayer})
		output, masks = outputs[0], outputs[1]
		defer masks.Close()
	} else if d.hasMasks {
		output = d.net.Forward(detectionOutputLayer)
	} else {
		output = d.net.Forward("")
	}
	defer output.Close()

	imgW := float64(mat.Cols())
	imgH := float64(mat.Rows())

	var results []models.Detection
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		score := float64(reshaped.GetFloatAt(i, 2))
		if score < conf {
			continue
		}
		classID := int(reshaped.GetFloatAt(i, 1))
		if classID != d.personClassID {
			continue
		}

		box := clampBox(models.BoundingBox{
			float64(reshaped.GetFloatAt(i, 3)) * imgW,
			float64(reshaped.GetFloatAt(i, 4)) * imgH,
			float64(reshaped.GetFloatAt(i, 5)) * imgW,
			float64(reshaped.GetFloatAt(i, 6)) * imgH,
		}, imgW, imgH)

		det := models.Detection{
			ID:    len(results) + 1,
			Score: &score,
			Box:   box,
		}
		if wantMasks {
			det.Polygons = d.maskPolygons(masks, i, box)
		}

		results = append(results, det)
	}

	return results, nil
}

// blobFromImage builds the input blob with the preprocessing the loaded model
// expects: mask models take the full-resolution image, the SSD fallback a
// normalized 300x300 crop.
func (d *Detector) blobFromImage(mat gocv.Mat) gocv.Mat {
	if d.hasMasks {
		return gocv.BlobFromImage(mat, 1.0, image.Pt(mat.Cols(), mat.Rows()),
			gocv.NewScalar(0, 0, 0, 0), true, false)
	}
	return gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
}

// maskPolygons extracts the contour polygons of detection det from the mask
// output, scaled to the box and offset to image coordinates.
func (d *Detector) maskPolygons(masks gocv.Mat, det int, box models.BoundingBox) []models.Polygon {
	dims := masks.Size()
	if len(dims) != 4 || det >= dims[0] {
		return nil
	}
	numClasses, maskH := dims[1], dims[2]
	if d.personClassID >= numClasses {
		return nil
	}

	boxW := int(box.Width())
	boxH := int(box.Height())
	if boxW < 1 || boxH < 1 {
		return nil
	}

	flat := masks.Reshape(1, dims[0]*numClasses)
	defer flat.Close()

	rowIdx := det*numClasses + d.personClassID
	row := flat.RowRange(rowIdx, rowIdx+1)
	defer row.Close()

	mask := row.Reshape(1, maskH)
	defer mask.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mask, &resized, image.Pt(boxW, boxH), 0, 0, gocv.InterpolationLinear)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(resized, &thresh, maskThreshold, 255, gocv.ThresholdBinary)

	mask8 := gocv.NewMat()
	defer mask8.Close()
	thresh.ConvertTo(&mask8, gocv.MatTypeCV8U)

	contours := gocv.FindContours(mask8, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var polygons []models.Polygon
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		polygon := make(models.Polygon, 0, contour.Size())
		for j := 0; j < contour.Size(); j++ {
			p := contour.At(j)
			polygon = append(polygon, models.Point{float64(p.X) + box[0], float64(p.Y) + box[1]})
		}
		polygons = append(polygons, polygon)
	}
	return polygons
}

// clampBox keeps coordinates inside the image and ordered.
func clampBox(box models.BoundingBox, w, h float64) models.BoundingBox {
	if box[0] > box[2] {
		box[0], box[2] = box[2], box[0]
	}
	if box[1] > box[3] {
		box[1], box[3] = box[3], box[1]
	}
	box[0] = clamp(box[0], 0, w)
	box[1] = clamp(box[1], 0, h)
	box[2] = clamp(box[2], 0, w)
	box[3] = clamp(box[3], 0, h)
	return box
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
