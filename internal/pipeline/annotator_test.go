package pipeline

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"github.com/hydrolens/microscan/internal/models"
)

func TestNewAnnotatorColor(t *testing.T) {
	_, err := NewAnnotator("#00FF00")
	test.That(t, err, test.ShouldBeNil)

	a, err := NewAnnotator("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldNotBeNil)

	_, err = NewAnnotator("not-a-color")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCaption(t *testing.T) {
	test.That(t, Caption(0.8734), test.ShouldEqual, "PLASTIC 0.87")
}

func TestAnnotateCountsAcceptedOnly(t *testing.T) {
	img := createInMemoryImage(100, 100, color.NRGBA{A: 255})
	decisions := []models.Decision{
		{Candidate: candidate(10, 30, 40, 60, 0.4), Accepted: true},
		{Candidate: candidate(50, 50, 90, 90, 0.95), Accepted: false, Reason: "brightness"},
		{Candidate: candidate(60, 10, 80, 30, 0.7), Accepted: true},
	}

	a, err := NewAnnotator(DefaultBoxColor)
	test.That(t, err, test.ShouldBeNil)

	out, count, maxConf := a.Annotate(img, decisions)
	test.That(t, count, test.ShouldEqual, 2)
	test.That(t, maxConf, test.ShouldEqual, 0.7)
	test.That(t, out.Bounds(), test.ShouldResemble, img.Bounds())

	r, g, b, _ := out.At(10, 45).RGBA()
	test.That(t, r>>8, test.ShouldBeGreaterThan, uint32(100))
	test.That(t, g>>8, test.ShouldBeLessThan, uint32(50))
	test.That(t, b>>8, test.ShouldBeLessThan, uint32(50))

	// rejected box must not be drawn
	r, _, _, _ = out.At(50, 70).RGBA()
	test.That(t, r, test.ShouldEqual, uint32(0))
}

func TestAnnotateDoesNotMutateInput(t *testing.T) {
	img := createInMemoryImage(40, 40, color.NRGBA{A: 255})
	before := make([]uint8, len(img.Pix))
	copy(before, img.Pix)

	a, _ := NewAnnotator("")
	_, count, _ := a.Annotate(img, []models.Decision{{Candidate: candidate(5, 5, 30, 30, 0.5), Accepted: true}})
	test.That(t, count, test.ShouldEqual, 1)
	test.That(t, img.Pix, test.ShouldResemble, before)
}

func TestAnnotateNoneAccepted(t *testing.T) {
	a, _ := NewAnnotator("")
	_, count, maxConf := a.Annotate(createInMemoryImage(10, 10, dark), nil)
	test.That(t, count, test.ShouldEqual, 0)
	test.That(t, maxConf, test.ShouldEqual, 0.0)
}

func TestAnnotateNonZeroOrigin(t *testing.T) {
	base := createInMemoryImage(60, 60, color.NRGBA{A: 255})
	sub := base.SubImage(image.Rect(20, 20, 60, 60))

	a, _ := NewAnnotator("")
	out, count, _ := a.Annotate(sub, []models.Decision{{Candidate: candidate(25, 30, 45, 50, 0.5), Accepted: true}})
	test.That(t, count, test.ShouldEqual, 1)
	test.That(t, out.Bounds().Dx(), test.ShouldEqual, 40)

	r, _, _, _ := out.At(5, 20).RGBA()
	test.That(t, r>>8, test.ShouldBeGreaterThan, uint32(100))
}
