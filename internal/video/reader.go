// Package video decodes, annotates and encodes frames with OpenCV.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"

	"gocv.io/x/gocv"
)

var (
	ErrOpen  = errors.New("open video failed")
	ErrRead  = errors.New("read video frame failed")
	ErrWrite = errors.New("write video frame failed")
)

// Reader yields decoded frames in order. It implements pipeline.Source.
type Reader struct {
	capture  *gocv.VideoCapture
	fps      float64
	size     image.Point
	expected int
	read     int
}

func OpenReader(path string) (*Reader, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpen, path)
	}

	return &Reader{
		capture: capture,
		fps:     capture.Get(gocv.VideoCaptureFPS),
		size: image.Pt(
			int(capture.Get(gocv.VideoCaptureFrameWidth)),
			int(capture.Get(gocv.VideoCaptureFrameHeight)),
		),
		expected: int(capture.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// Next returns the next frame. The caller owns the returned Mat. At the end
// of the stream it returns io.EOF. Only a container that advertises frames
// but yields none is reported as ErrRead.
func (r *Reader) Next(ctx context.Context) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, err
	}

	mat := gocv.NewMat()
	if ok := r.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, r.endOfStream()
	}
	r.read++
	return mat, nil
}

// endOfStream classifies a failed Read. CAP_PROP_FRAME_COUNT is an estimate
// and often overstates variable frame rate files, so a short stream ends
// normally with a warning.
func (r *Reader) endOfStream() error {
	if r.read == 0 && r.expected > 0 {
		return fmt.Errorf("%w: no frame decoded of %d advertised", ErrRead, r.expected)
	}
	if r.short() {
		slog.Warn("video ended before its advertised frame count", "read", r.read, "expected", r.expected)
	}
	return io.EOF
}

func (r *Reader) short() bool {
	if r.expected <= 0 {
		return false
	}
	tolerance := r.expected / 100
	if tolerance < 2 {
		tolerance = 2
	}
	return r.expected-r.read > tolerance
}

func (r *Reader) FPS() float64 {
	return r.fps
}

func (r *Reader) Size() image.Point {
	return r.size
}

func (r *Reader) FramesRead() int {
	return r.read
}

func (r *Reader) Close() error {
	return r.capture.Close()
}

// Info describes a video container as reported by OpenCV.
type Info struct {
	Frames int
	FPS    float64
	Size   image.Point
}

// Probe reads container metadata without decoding frames. Frames may be
// zero or approximate for some containers.
func Probe(path string) (Info, error) {
	r, err := OpenReader(path)
	if err != nil {
		return Info{}, err
	}
	defer r.Close()
	return Info{Frames: r.expected, FPS: r.fps, Size: r.size}, nil
}
