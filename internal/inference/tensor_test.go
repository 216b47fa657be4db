package inference

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func fillImage(img interface {
	Set(x, y int, c color.Color)
	Bounds() image.Rectangle
}, c color.Color) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
}

func TestPackCHW(t *testing.T) {
	tests := []struct {
		name string
		img  interface {
			image.Image
			Set(x, y int, c color.Color)
		}
	}{
		{"nrgba fast path", image.NewNRGBA(image.Rect(0, 0, 4, 3))},
		{"rgba generic path", image.NewRGBA(image.Rect(0, 0, 4, 3))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fillImage(tt.img, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
			dst := make([]float32, 3*4*3)
			PackCHW(tt.img, dst)

			channelSize := 12
			for i := 0; i < channelSize; i++ {
				test.That(t, dst[i], test.ShouldAlmostEqual, 1.0, 1e-6)
				test.That(t, dst[channelSize+i], test.ShouldAlmostEqual, 0.0, 1e-6)
				test.That(t, dst[2*channelSize+i], test.ShouldAlmostEqual, 0.2, 1e-6)
			}
		})
	}
}

func TestPackCHWSubImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	fillImage(img, color.NRGBA{A: 255})
	img.Set(5, 5, color.NRGBA{R: 255, A: 255})

	sub := img.SubImage(image.Rect(5, 5, 7, 7)).(*image.NRGBA)
	dst := make([]float32, 3*2*2)
	PackCHW(sub, dst)

	test.That(t, dst[0], test.ShouldAlmostEqual, 1.0, 1e-6)
	test.That(t, dst[1], test.ShouldAlmostEqual, 0.0, 1e-6)
}
