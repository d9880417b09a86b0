// Package export assembles processing results and writes their on-disk
// artifacts: the annotated image, a human-inspectable JSON metadata file and
// a row-per-detection CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"peoplecounter/internal/models"
)

// OutputExt derives the annotated image container from the input filename.
// Unsupported containers map to jpg.
func OutputExt(inputName string) string {
	switch strings.ToLower(filepath.Ext(inputName)) {
	case ".jpg", ".jpeg":
		return ".jpg"
	case ".png":
		return ".png"
	default:
		return ".jpg"
	}
}

// stem returns the input filename without directory and extension.
func stem(inputName string) string {
	base := filepath.Base(inputName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Assemble packages one pipeline run into an immutable ProcessResult. The
// output filename is derived deterministically from the input name's stem and
// the container the renderer actually produced.
func Assemble(inputName, mode string, conf float64, device string,
	detections []models.Detection, outputBytes []byte, outputExt string) *models.ProcessResult {

	return &models.ProcessResult{
		Count:       len(detections),
		Input:       filepath.Base(inputName),
		OutputImage: stem(inputName) + "_marked" + outputExt,
		Mode:        mode,
		Confidence:  conf,
		Device:      device,
		Detections:  detections,
		OutputBytes: outputBytes,
		OutputExt:   outputExt,
	}
}

// WriteArtifacts writes the annotated image, the metadata JSON and the boxes
// CSV into dir. File names share the input stem:
// <stem>_marked<ext>, <stem>_marked_meta.json, <stem>_marked_boxes.csv.
func WriteArtifacts(result *models.ProcessResult, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := stem(result.Input)

	if err := os.WriteFile(filepath.Join(dir, result.OutputImage), result.OutputBytes, 0644); err != nil {
		return fmt.Errorf("failed to write annotated image: %w", err)
	}

	meta, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, base+"_marked_meta.json"), meta, 0644); err != nil {
		return fmt.Errorf("failed to write metadata JSON: %w", err)
	}

	if err := writeBoxesCSV(filepath.Join(dir, base+"_marked_boxes.csv"), result.Detections); err != nil {
		return fmt.Errorf("failed to write boxes CSV: %w", err)
	}

	return nil
}

// writeBoxesCSV exports one row per detection: id, score, x1, y1, x2, y2.
func writeBoxesCSV(path string, detections []models.Detection) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"id", "score", "x1", "y1", "x2", "y2"}); err != nil {
		return err
	}

	for _, det := range detections {
		score := ""
		if det.Score != nil {
			score = strconv.FormatFloat(*det.Score, 'f', -1, 64)
		}
		row := []string{
			strconv.Itoa(det.ID),
			score,
			strconv.FormatFloat(det.Box[0], 'f', -1, 64),
			strconv.FormatFloat(det.Box[1], 'f', -1, 64),
			strconv.FormatFloat(det.Box[2], 'f', -1, 64),
			strconv.FormatFloat(det.Box[3], 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}
