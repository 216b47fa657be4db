package stream

import (
	"bufio"
	"context"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/pipeline"
)

// Source yields decoded frames. Acquisition failures wrap
// pipeline.ErrStreamSource.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

func sourceError(err error, msg string) error {
	return errors.Wrapf(pipeline.ErrStreamSource, "%s: %v", msg, err)
}

// MJPEGSource reads a multipart/x-mixed-replace JPEG stream over HTTP, as
// served by ESP32 and most IP cameras. The connection is opened on the first
// Next call and dropped after any read error; the following call dials again.
type MJPEGSource struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *multipart.Reader
}

func NewMJPEGSource(url string, client *http.Client) *MJPEGSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &MJPEGSource{url: url, client: client}
}

func (s *MJPEGSource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	part, err := s.reader.NextPart()
	if err != nil {
		s.reset()
		return nil, sourceError(err, "read frame")
	}
	defer part.Close()

	img, err := imaging.Decode(bufio.NewReader(part))
	if err != nil {
		s.reset()
		return nil, sourceError(err, "decode frame")
	}
	return img, nil
}

func (s *MJPEGSource) open(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return sourceError(err, "build request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return sourceError(err, "connect")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return sourceError(errors.Errorf("status %d", resp.StatusCode), "connect")
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		resp.Body.Close()
		return sourceError(errors.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")), "connect")
	}

	s.body = resp.Body
	s.reader = multipart.NewReader(resp.Body, strings.TrimPrefix(params["boundary"], "--"))
	return nil
}

func (s *MJPEGSource) reset() {
	if s.body != nil {
		s.body.Close()
	}
	s.body = nil
	s.reader = nil
}

func (s *MJPEGSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.body != nil {
		err = s.body.Close()
	}
	s.body = nil
	s.reader = nil
	return err
}
