package pipeline

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/hydrolens/microscan/internal/models"
)

// DefaultBrightnessCeiling is the mean luma (0-255) above which a region is
// treated as glare.
const DefaultBrightnessCeiling = 150.0

const (
	ReasonEmpty      = "empty"
	ReasonBrightness = "brightness"
)

// FilterOutcome is the result of one RegionFilter check. Crop is set
// whenever the clipped region is non-empty so later stages can reuse it.
type FilterOutcome struct {
	Pass     bool
	Reason   string
	MeanLuma float64
	Crop     image.Image
}

// RegionFilter rejects candidates using image-intrinsic heuristics only.
type RegionFilter struct {
	BrightnessCeiling float64
}

func (f RegionFilter) Pass(img image.Image, c models.Candidate) bool {
	return f.Check(img, c).Pass
}

func (f RegionFilter) Check(img image.Image, c models.Candidate) FilterOutcome {
	crop, ok := CropRegion(img, c.Box)
	if !ok {
		return FilterOutcome{Reason: ReasonEmpty}
	}

	luma := MeanLuma(crop)
	if luma > f.BrightnessCeiling {
		return FilterOutcome{Reason: ReasonBrightness, MeanLuma: luma, Crop: crop}
	}
	return FilterOutcome{Pass: true, MeanLuma: luma, Crop: crop}
}

// CropRegion copies the part of box that lies inside img. ok is false when
// that intersection has zero area.
func CropRegion(img image.Image, box models.BBox) (image.Image, bool) {
	if box.Area() == 0 {
		return nil, false
	}
	rect := box.Rect().Intersect(img.Bounds())
	if rect.Empty() {
		return nil, false
	}
	return imaging.Crop(img, rect), true
}

// MeanLuma is the average BT.601 grayscale intensity of img on a 0-255 scale.
func MeanLuma(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	n := len(gray.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum uint64
	for i := 0; i < len(gray.Pix); i += 4 {
		sum += uint64(gray.Pix[i])
	}
	return float64(sum) / float64(n)
}
