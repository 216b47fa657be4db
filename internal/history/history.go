// Package history keeps a bounded, newest-first log of scan results in a
// JSON file.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/models"
	"github.com/hydrolens/microscan/internal/verdict"
)

// DefaultLimit is the number of records kept on disk.
const DefaultLimit = 50

// Record mirrors the upload response body.
type Record struct {
	ID           string       `json:"id"`
	Status       string       `json:"status"`
	Label        models.Label `json:"label"`
	Detections   int          `json:"detections"`
	Confidence   float64      `json:"confidence"`
	Color        string       `json:"color"`
	ImageURL     string       `json:"image_url"`
	Timestamp    int64        `json:"timestamp"`
	Engine       string       `json:"engine"`
	Frames       int          `json:"frames,omitempty"`
	TargetFrames int          `json:"target_frames,omitempty"`
}

// FromFrame builds a record for a single-image verdict.
func FromFrame(id string, v models.FrameVerdict, imageURL, engine string) Record {
	return Record{
		ID:         id,
		Status:     v.Label.Status(),
		Label:      v.Label,
		Detections: v.Detections,
		Confidence: verdict.RoundConfidence(v.MaxConfidence),
		Color:      v.Label.Color(),
		ImageURL:   imageURL,
		Engine:     engine,
	}
}

// FromAggregate builds a record for a multi-frame verdict. detections is the
// accepted region count of the representative frame.
func FromAggregate(id string, v models.AggregateVerdict, detections int, imageURL, engine string) Record {
	return Record{
		ID:           id,
		Status:       v.Label.Status(),
		Label:        v.Label,
		Detections:   detections,
		Confidence:   verdict.RoundConfidence(v.Confidence),
		Color:        v.Label.Color(),
		ImageURL:     imageURL,
		Engine:       engine,
		Frames:       v.Frames,
		TargetFrames: v.TargetFrames,
	}
}

// Store is safe for concurrent use. Writes replace the file atomically.
type Store struct {
	path  string
	limit int
	clock clock.Clock

	mu sync.Mutex
}

func NewStore(path string, limit int, clk clock.Clock) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{path: path, limit: limit, clock: clk}
}

func (s *Store) Path() string { return s.path }

// Append stores rec as the newest record, stamping it with the current time
// when it carries none, and drops the oldest records beyond the limit.
func (s *Store) Append(rec Record) (Record, error) {
	if rec.Timestamp == 0 {
		rec.Timestamp = s.clock.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return rec, err
	}

	records = append([]Record{rec}, records...)
	if len(records) > s.limit {
		records = records[:s.limit]
	}
	return rec, s.write(records)
}

// List returns up to n records, newest first. n <= 0 returns all of them.
func (s *Store) List(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

func (s *Store) load() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	if len(data) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Wrapf(err, "decode history %s", s.path)
	}
	return records, nil
}

func (s *Store) write(records []Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create history dir")
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return errors.Wrap(err, "create temp history")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write history")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "write history")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace history")
	}
	return nil
}
