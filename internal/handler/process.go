package handler

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"peoplecounter/internal/config"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/middleware"
	"peoplecounter/internal/models"
	"peoplecounter/internal/service"
	"peoplecounter/internal/service/ai"
)

const maxUploadSize = 32 << 20

// ProcessHandler accepts an image upload, runs it through the pipeline and
// returns the annotated image. Dedup information travels in the X-Image-Id,
// X-Duplicate and X-Count headers.
func ProcessHandler(pipeline *service.Pipeline, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, filename, err := readUpload(r)
		if err != nil {
			writeError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = models.ModeSegment
		}
		if !models.ValidMode(mode) {
			writeError(w, "invalid_mode", "mode must be 'seg' or 'bbox'", http.StatusBadRequest)
			return
		}

		conf := cfg.DefaultConfidence
		if raw := r.URL.Query().Get("conf"); raw != "" {
			conf, err = strconv.ParseFloat(raw, 64)
			// NaN slips past the range comparisons, so check finiteness first.
			if err != nil || math.IsNaN(conf) || math.IsInf(conf, 0) || conf < 0 || conf > 1 {
				writeError(w, "invalid_confidence", "conf must be a number in [0, 1]", http.StatusBadRequest)
				return
			}
		}

		outcome, err := pipeline.Process(r.Context(), content, filename, mode, conf)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrEmptyInput):
				writeError(w, "empty_input", "Empty file", http.StatusBadRequest)
			case errors.Is(err, ai.ErrInvalidImage):
				writeError(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
			case errors.Is(err, ai.ErrModelUnavailable):
				logger.Error("Detection model unavailable (request %s): %v", middleware.GetRequestID(r.Context()), err)
				writeError(w, "model_unavailable", "Detection model could not be loaded", http.StatusInternalServerError)
			default:
				logger.Error("Processing failed for %s (request %s): %v", filename, middleware.GetRequestID(r.Context()), err)
				writeError(w, "processing_error", "Failed to process image", http.StatusInternalServerError)
			}
			return
		}

		if outcome.ImageID != 0 {
			w.Header().Set("X-Image-Id", strconv.FormatInt(outcome.ImageID, 10))
		} else {
			w.Header().Set("X-Image-Id", "")
		}
		w.Header().Set("X-Duplicate", strconv.FormatBool(outcome.Duplicate))
		if outcome.Count != nil {
			w.Header().Set("X-Count", strconv.Itoa(*outcome.Count))
		} else {
			w.Header().Set("X-Count", "")
		}
		w.Header().Set("Content-Type", contentTypeForExt(outcome.OutputExt))
		w.Write(outcome.OutputBytes)
	}
}

// readUpload extracts the image bytes from a multipart form ("file" field) or,
// failing that, from the raw request body.
func readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", errors.New("missing 'file' form field")
		}
		defer file.Close()

		content, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}

		filename := header.Filename
		if filename == "" {
			filename = "uploaded.jpg"
		}
		return content, filename, nil
	}

	content, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize))
	if err != nil {
		return nil, "", err
	}
	return content, "uploaded.jpg", nil
}
