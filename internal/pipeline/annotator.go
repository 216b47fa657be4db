package pipeline

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/hydrolens/microscan/internal/models"
)

const (
	DefaultBoxColor  = "#FF0000"
	defaultLineWidth = 2.0
	defaultFontSize  = 12.0
	captionOffset    = 6.0
)

var captionFont *truetype.Font

func init() {
	var err error
	captionFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Annotator draws accepted regions onto a copy of the source image.
type Annotator struct {
	color     color.Color
	lineWidth float64
	fontSize  float64
}

// NewAnnotator parses hexColor ("#RRGGBB"); an empty string selects
// DefaultBoxColor.
func NewAnnotator(hexColor string) (*Annotator, error) {
	if hexColor == "" {
		hexColor = DefaultBoxColor
	}
	c, err := colorful.Hex(hexColor)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid box color %q", hexColor)
	}
	return &Annotator{color: c, lineWidth: defaultLineWidth, fontSize: defaultFontSize}, nil
}

// Caption is the label drawn above an accepted region.
func Caption(confidence float64) string {
	return fmt.Sprintf("PLASTIC %.2f", confidence)
}

// Annotate draws every accepted decision in the given order. The input
// image is never modified.
func (a *Annotator) Annotate(img image.Image, decisions []models.Decision) (image.Image, int, float64) {
	origin := img.Bounds().Min
	if origin != (image.Point{}) {
		// gg rasterizes in zero-origin coordinates.
		img = imaging.Clone(img)
	}

	dc := gg.NewContextForImage(img)
	dc.SetFontFace(truetype.NewFace(captionFont, &truetype.Options{Size: a.fontSize}))
	dc.SetColor(a.color)
	dc.SetLineWidth(a.lineWidth)

	count := 0
	maxConf := 0.0

	for _, d := range decisions {
		if !d.Accepted {
			continue
		}
		count++
		if d.Candidate.Confidence > maxConf {
			maxConf = d.Candidate.Confidence
		}

		box := d.Candidate.Box
		x := float64(box.X1 - origin.X)
		y := float64(box.Y1 - origin.Y)
		dc.DrawRectangle(x, y, float64(box.Width()), float64(box.Height()))
		dc.Stroke()

		captionY := y - captionOffset
		if captionY < a.fontSize {
			captionY = y + a.fontSize + captionOffset
		}
		dc.DrawString(Caption(d.Candidate.Confidence), x, captionY)
	}

	return dc.Image(), count, maxConf
}
