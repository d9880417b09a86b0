// Package service contains the processing pipeline: fingerprint, dedup
// lookup, detection, annotation, assembly and race-safe persistence.
package service

import (
	"context"
	"errors"

	"peoplecounter/internal/fingerprint"
	"peoplecounter/internal/logger"
	"peoplecounter/internal/models"
	"peoplecounter/internal/repository"
	"peoplecounter/internal/service/export"
	"peoplecounter/internal/service/websocket"
)

// ErrEmptyInput rejects zero-length uploads before any processing.
var ErrEmptyInput = errors.New("empty input")

// Detector is the opaque detection capability: raw bytes in, people out.
// Swapping detection backends means swapping the implementation, never
// branching on type.
type Detector interface {
	Detect(image []byte, mode string, conf float64) ([]models.Detection, error)
	Device() string
}

// Renderer produces annotated image bytes from the source bytes and the
// detections found in them.
type Renderer interface {
	Annotate(image []byte, detections []models.Detection, ext string) ([]byte, string, error)
}

// Outcome is what one processing request resolves to.
type Outcome struct {
	OutputBytes []byte
	OutputExt   string
	// Count is nil on cache hits whose stored metadata predates the count
	// field: absent, not zero.
	Count     *int
	ImageID   int64 // 0 when nothing was persisted
	Duplicate bool
}

// Pipeline orchestrates processing requests. Detector instances are not
// assumed safe for concurrent use, so they are held in a channel pool;
// cross-request dedup coordination is delegated entirely to the store's
// conflict-skip insert, never to in-process locks.
type Pipeline struct {
	detectors chan Detector
	renderer  Renderer
	repo      repository.ImageRepository // nil = degraded mode, no persistence
	hub       *websocket.Hub             // optional
	outputDir string                     // empty = no on-disk artifacts
	logger    *logger.Logger
}

func NewPipeline(detectors []Detector, renderer Renderer, repo repository.ImageRepository,
	hub *websocket.Hub, outputDir string, logger *logger.Logger) *Pipeline {

	pool := make(chan Detector, len(detectors))
	for _, d := range detectors {
		pool <- d
	}

	return &Pipeline{
		detectors: pool,
		renderer:  renderer,
		repo:      repo,
		hub:       hub,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Degraded reports whether the pipeline runs without a backing store.
func (p *Pipeline) Degraded() bool {
	return p.repo == nil
}

// Process runs one request through the pipeline: fingerprint, store lookup,
// and on a miss detect, annotate, assemble and persist with a race-safe
// insert. The returned id is authoritative regardless of which writer won a
// concurrent race; the caller that lost still reports Duplicate=false.
func (p *Pipeline) Process(ctx context.Context, content []byte, filename, mode string, conf float64) (*Outcome, error) {
	if len(content) == 0 {
		return nil, ErrEmptyInput
	}

	fp := fingerprint.Sum(content)

	if p.repo != nil {
		stored, err := p.repo.GetByFingerprint(fp)
		if err != nil {
			p.logger.Warning("Store lookup failed, processing without cache: %v", err)
		} else if stored != nil {
			outcome := &Outcome{
				OutputBytes: stored.OutputImage,
				OutputExt:   export.OutputExt(stored.OutputFilename),
				Count:       countFromMetadata(stored.Metadata),
				ImageID:     stored.ID,
				Duplicate:   true,
			}
			p.publish(stored.InputFilename, outcome)
			return outcome, nil
		}
	}

	detector, err := p.acquireDetector(ctx)
	if err != nil {
		return nil, err
	}
	defer p.releaseDetector(detector)

	detections, err := detector.Detect(content, mode, conf)
	if err != nil {
		return nil, err
	}

	annotated, ext, err := p.renderer.Annotate(content, detections, export.OutputExt(filename))
	if err != nil {
		return nil, err
	}

	result := export.Assemble(filename, mode, conf, detector.Device(), detections, annotated, ext)

	if p.outputDir != "" {
		if err := export.WriteArtifacts(result, p.outputDir); err != nil {
			p.logger.Warning("Failed to write artifacts for %s: %v", result.Input, err)
		}
	}

	outcome := &Outcome{
		OutputBytes: annotated,
		OutputExt:   ext,
		Count:       intPtr(result.Count),
	}

	if p.repo != nil {
		id, err := p.repo.InsertIfAbsent(&models.StoredImage{
			InputFilename:  result.Input,
			OutputFilename: result.OutputImage,
			Metadata:       result.Metadata().AsMap(),
			InputImage:     content,
			OutputImage:    annotated,
			Fingerprint:    fp,
		})
		if err != nil {
			p.logger.Warning("Store insert failed, result not persisted: %v", err)
		} else {
			outcome.ImageID = id
		}
	}

	p.publish(result.Input, outcome)
	return outcome, nil
}

// acquireDetector takes a model instance from the pool, honoring caller
// disconnects while waiting.
func (p *Pipeline) acquireDetector(ctx context.Context) (Detector, error) {
	select {
	case detector := <-p.detectors:
		return detector, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) releaseDetector(detector Detector) {
	p.detectors <- detector
}

// publish notifies dashboard clients of a completed run.
func (p *Pipeline) publish(input string, outcome *Outcome) {
	if p.hub == nil {
		return
	}
	p.hub.BroadcastEvent(websocket.ProcessEvent{
		ID:        outcome.ImageID,
		Input:     input,
		Count:     outcome.Count,
		Duplicate: outcome.Duplicate,
	})
}

// countFromMetadata recovers the stored person count. Legacy rows may lack
// the key; that surfaces as nil rather than zero.
func countFromMetadata(meta map[string]any) *int {
	if meta == nil {
		return nil
	}
	switch v := meta["count"].(type) {
	case float64:
		return intPtr(int(v))
	case int:
		return intPtr(v)
	default:
		return nil
	}
}

func intPtr(v int) *int {
	return &v
}
