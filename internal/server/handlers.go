package server

import (
	"context"
	"image"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hydrolens/microscan/internal/history"
	"github.com/hydrolens/microscan/internal/models"
	"github.com/hydrolens/microscan/internal/pipeline"
)

const healthStatus = "Microplastic Detection API Online"

type HealthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.detector == nil {
		sendErrorResponse(w, "model_unavailable", pipeline.ErrProposerUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}
	sendJSON(w, HealthResponse{Status: healthStatus, Engine: s.detector.Engine()})
}

func (s *Server) logTimings(t *models.ProcessingTimings) {
	s.logger.Debugw("processing times",
		"request_id", t.RequestID,
		"image_decode", t.ImageDecode,
		"propose", t.Propose,
		"filter", t.Filter,
		"validate", t.Validate,
		"annotate", t.Annotate,
		"total", t.Total,
	)
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	id := newID()
	timings := &models.ProcessingTimings{RequestID: id}

	if s.detector == nil {
		sendErrorResponse(w, "model_unavailable", pipeline.ErrProposerUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	data, err := readUpload(r, s.opts.MaxUploadBytes)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	frames, err := decodeUpload(data, s.opts.Stride, s.opts.MaxUploadPixels)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidInput) {
			sendPipelineError(w, err)
			return
		}
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	var (
		rec       history.Record
		annotated image.Image
	)
	name := "result_" + id + ".jpg"
	imageURL := staticRoute + name

	if len(frames) == 1 {
		res, err := withDeadline(ctx, func(ctx context.Context) (*pipeline.Result, error) {
			return s.detector.Process(ctx, frames[0])
		})
		if err != nil {
			s.logger.Warnw("upload failed", "request_id", id, "error", err)
			sendPipelineError(w, err)
			return
		}
		mergeTimings(timings, res.Timings)
		annotated = res.Annotated
		rec = history.FromFrame(id, res.Verdict, imageURL, s.detector.Engine())
	} else {
		seq, err := withDeadline(ctx, func(ctx context.Context) (*pipeline.SequenceResult, error) {
			// decodeUpload already kept only the sampled frames
			return s.detector.ProcessSequence(ctx, frames, 1)
		})
		if err != nil {
			s.logger.Warnw("upload failed", "request_id", id, "error", err)
			sendPipelineError(w, err)
			return
		}
		best := representative(seq.Frames)
		mergeTimings(timings, best.Timings)
		annotated = best.Annotated
		rec = history.FromAggregate(id, seq.Aggregate, best.Verdict.Detections, imageURL, s.detector.Engine())
	}

	if err := imaging.Save(annotated, filepath.Join(s.opts.StaticDir, name), imaging.JPEGQuality(s.opts.JPEGQuality)); err != nil {
		sendErrorResponse(w, "storage_error", err.Error(), http.StatusInternalServerError)
		return
	}

	rec.Timestamp = s.clock.Now().Unix()
	if s.history != nil {
		if _, err := s.history.Append(rec); err != nil {
			s.logger.Warnw("history append failed", "request_id", id, "error", err)
		}
	}

	timings.Total = time.Since(startTotal)
	s.logTimings(timings)
	s.logger.Infow("scan complete", "request_id", id, "status", rec.Status, "detections", rec.Detections)

	sendJSON(w, rec)
}

// withDeadline returns as soon as ctx expires even if fn is still running.
func withDeadline[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.v, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// representative picks the sampled frame with the highest confidence,
// the first one on ties.
func representative(frames []*pipeline.Result) *pipeline.Result {
	best := frames[0]
	for _, f := range frames[1:] {
		if f.Verdict.MaxConfidence > best.Verdict.MaxConfidence {
			best = f
		}
	}
	return best
}

func mergeTimings(dst *models.ProcessingTimings, src models.ProcessingTimings) {
	dst.Propose = src.Propose
	dst.Filter = src.Filter
	dst.Validate = src.Validate
	dst.Annotate = src.Annotate
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		sendJSON(w, []history.Record{})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendErrorResponse(w, "invalid_request", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.List(limit)
	if err != nil {
		sendErrorResponse(w, "history_error", err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, records)
}

func (s *Server) handleResult(w http.ResponseWriter, _ *http.Request) {
	if s.live == nil {
		sendErrorResponse(w, "stream_disabled", "no live stream configured", http.StatusServiceUnavailable)
		return
	}
	sendJSON(w, s.live.Latest())
}

// handleLive pushes each newly published annotated frame as one part of a
// multipart/x-mixed-replace response until the client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		sendErrorResponse(w, "stream_disabled", "no live stream configured", http.StatusServiceUnavailable)
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary("frame"); err != nil {
		sendErrorResponse(w, "stream_error", err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	var seq uint64
	for {
		snap, err := s.live.Wait(r.Context(), seq)
		if err != nil {
			return
		}
		seq = snap.Seq
		if len(snap.JPEG) == 0 {
			continue
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(snap.JPEG))},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(snap.JPEG); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
