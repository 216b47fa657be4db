package detections

import (
	"fmt"
	"math"
	"sort"

	"github.com/hydrolens/microscan/internal/models"
)

// decodePredictions reads a YOLOv8 style [1, 4+nc, n] output laid out
// channel-major: cx, cy, w, h rows followed by one score row per class.
// Boxes are scaled from model input space back to the original image.
func decodePredictions(predictions []float32, cfg Config, originalWidth, originalHeight int) ([]models.Candidate, error) {
	n := cfg.NumPredictions
	channels := 4 + cfg.NumClasses

	expectedSize := channels * n
	if len(predictions) != expectedSize {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), expectedSize)
	}

	threshold := float32(cfg.ScoreFloor)
	candidates := make([]models.Candidate, 0, 100)

	for i := 0; i < n; i++ {
		bestClass := 0
		bestScore := predictions[4*n+i]
		for c := 1; c < cfg.NumClasses; c++ {
			if score := predictions[(4+c)*n+i]; score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestScore < threshold || math.IsNaN(float64(bestScore)) {
			continue
		}

		box := calculateBBox(
			[4]float32{
				predictions[i],
				predictions[n+i],
				predictions[2*n+i],
				predictions[3*n+i],
			},
			cfg,
			float32(originalWidth),
			float32(originalHeight),
		)
		if box.Area() == 0 {
			continue
		}
		candidates = append(candidates, models.Candidate{
			Box:        box,
			Confidence: float64(bestScore),
			ClassID:    bestClass,
		})
	}

	sortCandidatesByConfidence(candidates)
	return candidates, nil
}

func calculateBBox(coords [4]float32, cfg Config, origWidth, origHeight float32) models.BBox {
	inW := float32(cfg.InputWidth)
	inH := float32(cfg.InputHeight)

	// Scale factors
	scaleX := origWidth / inW
	scaleY := origHeight / inH

	centerX, centerY, width, height := coords[0], coords[1], coords[2], coords[3]
	if cfg.NormalizedCoords {
		centerX *= inW
		centerY *= inH
		width *= inW
		height *= inH
	}

	x1 := (centerX - width/2) * scaleX
	y1 := (centerY - height/2) * scaleY
	x2 := (centerX + width/2) * scaleX
	y2 := (centerY + height/2) * scaleY

	return models.BBox{
		X1: int(clampF32(x1, 0, origWidth)),
		Y1: int(clampF32(y1, 0, origHeight)),
		X2: int(clampF32(x2, 0, origWidth)),
		Y2: int(clampF32(y2, 0, origHeight)),
	}
}

func sortCandidatesByConfidence(candidates []models.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
}

func clampF32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
