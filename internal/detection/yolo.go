// Package detection feeds object detections from an inference service into
// the camera overlay.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/bryanchriswhite/RoboEye/internal/config"
	"github.com/bryanchriswhite/RoboEye/internal/overlay"
	"github.com/disintegration/imaging"
)

// ErrServiceUnavailable means the inference service could not be reached or
// answered with an error
var ErrServiceUnavailable = errors.New("detection service unavailable")

// Detector finds objects in a frame. Boxes are in frame coordinates.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]overlay.Detection, error)
}

// YOLOBox is one detection as returned by the service, in model input
// coordinates
type YOLOBox struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// YOLOResult is the service response
type YOLOResult struct {
	Detections      []YOLOBox `json:"detections"`
	Count           int       `json:"count"`
	InferenceTimeMs float64   `json:"inference_time_ms"`
}

// HTTPDetector posts a resized JPEG of each frame to a YOLO-style HTTP
// service
type HTTPDetector struct {
	endpoint   string
	client     *http.Client
	inputSize  int
	confidence float64
}

// NewHTTPDetector creates a detector from configuration
func NewHTTPDetector(cfg config.DetectionConfig) *HTTPDetector {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	size := cfg.InputSize
	if size <= 0 {
		size = 416
	}
	return &HTTPDetector{
		endpoint:   cfg.Endpoint,
		client:     &http.Client{Timeout: timeout},
		inputSize:  size,
		confidence: cfg.Confidence,
	}
}

// Detect resizes img to the model input size, sends it to the service and
// maps the boxes back onto img. Boxes at or below the confidence threshold
// are dropped.
func (d *HTTPDetector) Detect(ctx context.Context, img image.Image) ([]overlay.Detection, error) {
	bounds := img.Bounds()
	resized := imaging.Resize(img, d.inputSize, d.inputSize, imaging.Linear)

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if err := jpeg.Encode(fw, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", d.confidence))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, string(body))
	}

	var result YOLOResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	return d.mapBoxes(result.Detections, bounds.Dx(), bounds.Dy()), nil
}

// mapBoxes converts model coordinates to a width x height frame
func (d *HTTPDetector) mapBoxes(boxes []YOLOBox, width, height int) []overlay.Detection {
	scale := func(v float64, extent int) int {
		return int(v * float64(extent) / float64(d.inputSize))
	}

	set := make([]overlay.Detection, 0, len(boxes))
	for _, box := range boxes {
		if len(box.BBox) != 4 || box.Confidence <= d.confidence {
			continue
		}
		set = append(set, overlay.NewDetection(
			scale(box.BBox[0], width),
			scale(box.BBox[1], height),
			scale(box.BBox[2], width),
			scale(box.BBox[3], height),
			box.Confidence,
		))
	}
	return set
}

// Center returns the integer center of a detection box
func Center(d overlay.Detection) image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}
