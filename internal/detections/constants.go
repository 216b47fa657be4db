package detections

import "time"

const (
	InputWidth     = 640
	InputHeight    = 640
	NumPredictions = 8400
	NumClasses     = 1
	ScoreFloor     = 0.001
	IouThreshold   = 0.45
	MaxDetections  = 300
	RetryAttempts  = 3
	RetryDelay     = 100 * time.Millisecond
)
