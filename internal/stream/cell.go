// Package stream runs the detection pipeline over a live frame source and
// publishes the latest result for HTTP readers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hydrolens/microscan/internal/models"
	"github.com/hydrolens/microscan/internal/verdict"
)

const StatusWaiting = "Waiting"

// Snapshot is the latest live result. Seq is zero until the first frame has
// been published.
type Snapshot struct {
	Status     string       `json:"status"`
	Label      models.Label `json:"label,omitempty"`
	Detections int          `json:"detections"`
	Confidence float64      `json:"confidence"`
	Seq        uint64       `json:"seq"`
	UpdatedAt  time.Time    `json:"updated_at"`
	JPEG       []byte       `json:"-"`
}

// Cell holds the most recent Snapshot. Readers either poll Latest or block
// in Wait for the next publication.
type Cell struct {
	clock clock.Clock

	mu      sync.Mutex
	snap    Snapshot
	changed chan struct{}
}

func NewCell(clk clock.Clock) *Cell {
	if clk == nil {
		clk = clock.New()
	}
	return &Cell{
		clock:   clk,
		snap:    Snapshot{Status: StatusWaiting},
		changed: make(chan struct{}),
	}
}

func (c *Cell) Latest() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Publish replaces the snapshot and wakes every waiter. jpeg is retained,
// callers must not modify it afterwards.
func (c *Cell) Publish(v models.FrameVerdict, jpeg []byte) Snapshot {
	c.mu.Lock()
	c.snap = Snapshot{
		Status:     v.Label.Status(),
		Label:      v.Label,
		Detections: v.Detections,
		Confidence: verdict.RoundConfidence(v.MaxConfidence),
		Seq:        c.snap.Seq + 1,
		UpdatedAt:  c.clock.Now(),
		JPEG:       jpeg,
	}
	snap := c.snap
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
	return snap
}

// Wait blocks until a snapshot newer than after is available.
func (c *Cell) Wait(ctx context.Context, after uint64) (Snapshot, error) {
	for {
		c.mu.Lock()
		snap, changed := c.snap, c.changed
		c.mu.Unlock()

		if snap.Seq > after {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-changed:
		}
	}
}
