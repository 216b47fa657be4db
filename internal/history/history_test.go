package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/hydrolens/microscan/internal/models"
)

func newTestStore(t *testing.T, limit int) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))
	return NewStore(filepath.Join(t.TempDir(), "history.json"), limit, clk), clk
}

func TestListMissingFile(t *testing.T) {
	s, _ := newTestStore(t, 0)
	records, err := s.List(10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldBeEmpty)
}

func TestAppendNewestFirst(t *testing.T) {
	s, clk := newTestStore(t, 0)

	first, err := s.Append(Record{ID: "a"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Timestamp, test.ShouldEqual, int64(1700000000))

	clk.Add(5 * time.Second)
	_, err = s.Append(Record{ID: "b"})
	test.That(t, err, test.ShouldBeNil)

	records, err := s.List(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 2)
	test.That(t, records[0].ID, test.ShouldEqual, "b")
	test.That(t, records[0].Timestamp, test.ShouldEqual, int64(1700000005))
	test.That(t, records[1].ID, test.ShouldEqual, "a")

	records, err = s.List(1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 1)
	test.That(t, records[0].ID, test.ShouldEqual, "b")
}

func TestAppendKeepsExplicitTimestamp(t *testing.T) {
	s, _ := newTestStore(t, 0)
	rec, err := s.Append(Record{ID: "a", Timestamp: 42})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Timestamp, test.ShouldEqual, int64(42))
}

func TestAppendTruncatesToLimit(t *testing.T) {
	s, _ := newTestStore(t, 3)
	for i := 0; i < 5; i++ {
		_, err := s.Append(Record{ID: fmt.Sprint(i)})
		test.That(t, err, test.ShouldBeNil)
	}

	records, err := s.List(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 3)
	test.That(t, records[0].ID, test.ShouldEqual, "4")
	test.That(t, records[2].ID, test.ShouldEqual, "2")
}

func TestCorruptFile(t *testing.T) {
	s, _ := newTestStore(t, 0)
	test.That(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644), test.ShouldBeNil)

	_, err := s.List(0)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = s.Append(Record{ID: "a"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConcurrentAppend(t *testing.T) {
	s, _ := newTestStore(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(Record{ID: fmt.Sprint(i)})
			test.That(t, err, test.ShouldBeNil)
		}(i)
	}
	wg.Wait()

	records, err := s.List(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 20)
}

func TestFromFrame(t *testing.T) {
	rec := FromFrame("abc", models.FrameVerdict{Detections: 2, MaxConfidence: 0.87654, Label: models.LabelTarget},
		"/api/static/result_abc.jpg", "YOLOv8")

	test.That(t, rec.Status, test.ShouldEqual, "Microplastics Detected")
	test.That(t, rec.Color, test.ShouldEqual, "danger")
	test.That(t, rec.Confidence, test.ShouldEqual, 0.877)
	test.That(t, rec.Frames, test.ShouldEqual, 0)

	rec = FromAggregate("abc", models.AggregateVerdict{Label: models.LabelClean, Confidence: 0.32, Frames: 10, TargetFrames: 4},
		0, "", "YOLOv8 + CNN")
	test.That(t, rec.Status, test.ShouldEqual, "Clean Water")
	test.That(t, rec.Color, test.ShouldEqual, "safe")
	test.That(t, rec.Frames, test.ShouldEqual, 10)
	test.That(t, rec.TargetFrames, test.ShouldEqual, 4)
}
