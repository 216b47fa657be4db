package detections

import (
	"math"

	"github.com/hydrolens/microscan/internal/models"
)

// nonMaxSuppression keeps the highest scoring box of every overlapping
// group. Input must be sorted by confidence, descending; output keeps that
// order and is capped at maxDetections.
func nonMaxSuppression(candidates []models.Candidate, iouThreshold float64, maxDetections int) []models.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	kept := make([]models.Candidate, 0, len(candidates))
	suppressed := make([]bool, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		if maxDetections > 0 && len(kept) >= maxDetections {
			break
		}
		for j := i + 1; j < len(candidates); j++ {
			if !suppressed[j] && calculateIOU(candidates[i].Box, candidates[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func calculateIOU(box1, box2 models.BBox) float64 {
	x1 := math.Max(float64(box1.X1), float64(box2.X1))
	y1 := math.Max(float64(box1.Y1), float64(box2.Y1))
	x2 := math.Min(float64(box1.X2), float64(box2.X2))
	y2 := math.Min(float64(box1.Y2), float64(box2.Y2))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64(box1.Area())
	area2 := float64(box2.Area())
	union := area1 + area2 - intersection

	return intersection / union
}
