package models

import (
	"image"
	"time"
)

// BBox is an axis-aligned box in source-image pixel space. X1,Y1 are
// inclusive and X2,Y2 exclusive, matching image.Rectangle.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Area is zero for degenerate boxes.
func (b BBox) Area() int {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// Candidate is a region proposed by the localization stage.
type Candidate struct {
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// ValidationResult is the classifier's verdict on a single crop.
type ValidationResult struct {
	IsTarget          bool    `json:"is_target"`
	TargetProbability float64 `json:"target_probability"`
}

// AcceptAll is the result used when no classifier is configured or when
// the classifier fails.
var AcceptAll = ValidationResult{IsTarget: true, TargetProbability: 1.0}

// Decision is the fused accept/reject outcome for one candidate. Reason
// names the first gate that rejected the candidate.
type Decision struct {
	Candidate  Candidate         `json:"candidate"`
	Accepted   bool              `json:"accepted"`
	Reason     string            `json:"reason,omitempty"`
	Validation *ValidationResult `json:"validation,omitempty"`
}

type Label string

const (
	LabelTarget Label = "target-detected"
	LabelClean  Label = "clean"
)

// Status is the human readable form shown to operators.
func (l Label) Status() string {
	if l == LabelTarget {
		return "Microplastics Detected"
	}
	return "Clean Water"
}

// Color is the UI severity hint.
func (l Label) Color() string {
	if l == LabelTarget {
		return "danger"
	}
	return "safe"
}

// FrameVerdict summarizes the accepted decisions of one image or frame.
type FrameVerdict struct {
	Detections    int     `json:"detections"`
	MaxConfidence float64 `json:"confidence"`
	Label         Label   `json:"label"`
}

// FrameResult is the (label, confidence) pair fed to multi-frame aggregation.
type FrameResult struct {
	Label      Label
	Confidence float64
}

// AggregateVerdict is the folded verdict over a sampled frame sequence.
type AggregateVerdict struct {
	Label        Label   `json:"label"`
	Confidence   float64 `json:"confidence"`
	Frames       int     `json:"frames"`
	TargetFrames int     `json:"target_frames"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Propose     time.Duration
	Filter      time.Duration
	Validate    time.Duration
	Annotate    time.Duration
	Total       time.Duration
}
