package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/pipeline"
	"github.com/hydrolens/microscan/internal/verdict"
)

var errEmptyUpload = errors.New("no file uploaded")

// readUpload accepts a multipart "file" field, a JSON body with a base64
// "image" field, or the raw image bytes.
func readUpload(r *http.Request, limit int64) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var data []byte
	var err error
	switch {
	case mediaType == "application/json":
		data, err = handleJSONRequest(r)
	case strings.HasPrefix(mediaType, "multipart/"):
		data, err = handleMultipartRequest(r, limit)
	default:
		data, err = handleRawRequest(r)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyUpload
	}
	return data, nil
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request, limit int64) ([]byte, error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errEmptyUpload
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

// decodeUpload returns one image for still formats and the composed frames
// at the stride sample indices for animated GIFs. Uploads whose decoded size
// across all frames exceeds maxPixels are rejected before composition.
func decodeUpload(data []byte, stride int, maxPixels int64) ([]image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := checkPixelBudget(cfg.Width, cfg.Height, 1, maxPixels); err != nil {
		return nil, err
	}

	if format == "gif" {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		if len(g.Image) > 1 {
			if err := checkPixelBudget(cfg.Width, cfg.Height, len(g.Image), maxPixels); err != nil {
				return nil, err
			}
			return composeGIF(g, stride), nil
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

func checkPixelBudget(width, height, frames int, maxPixels int64) error {
	total := int64(width) * int64(height) * int64(frames)
	if total > maxPixels {
		return errors.Wrapf(pipeline.ErrInvalidInput,
			"%dx%d image with %d frame(s) exceeds the %d pixel limit", width, height, frames, maxPixels)
	}
	return nil
}

// composeGIF renders every frame onto one logical screen, honouring the
// background disposal method, and keeps a copy only of the sampled frames.
func composeGIF(g *gif.GIF, stride int) []image.Image {
	width, height := g.Config.Width, g.Config.Height
	if width == 0 || height == 0 {
		b := g.Image[0].Bounds()
		width, height = b.Max.X, b.Max.Y
	}

	sampled := verdict.Sample(len(g.Image), stride)
	frames := make([]image.Image, 0, len(sampled))
	canvas := imaging.New(width, height, image.Transparent)
	next := 0
	for i, frame := range g.Image {
		if next == len(sampled) {
			break
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		if i == sampled[next] {
			frames = append(frames, imaging.Clone(canvas))
			next++
		}

		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalBackground {
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
	}
	return frames
}
