package pipeline

import (
	"context"
	"image"
	"image/color"

	"github.com/hydrolens/microscan/internal/models"
)

// createInMemoryImage creates a solid color image.
func createInMemoryImage(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// paintRect fills r with c.
func paintRect(img *image.NRGBA, r image.Rectangle, c color.Color) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

var (
	dark   = color.NRGBA{R: 40, G: 60, B: 80, A: 255}
	bright = color.NRGBA{R: 250, G: 250, B: 250, A: 255}
)

type staticProposer struct {
	candidates []models.Candidate
	err        error
}

func (s staticProposer) Propose(context.Context, image.Image) ([]models.Candidate, error) {
	out := make([]models.Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out, s.err
}

type recordingValidator struct {
	enabled bool
	result  models.ValidationResult
	crops   []image.Rectangle
}

func (r *recordingValidator) Enabled() bool { return r.enabled }

func (r *recordingValidator) Validate(_ context.Context, crop image.Image) models.ValidationResult {
	r.crops = append(r.crops, crop.Bounds())
	return r.result
}

func candidate(x1, y1, x2, y2 int, conf float64) models.Candidate {
	return models.Candidate{Box: models.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: conf}
}
