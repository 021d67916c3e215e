package video

import (
	"context"
	"fmt"
	"sync/atomic"

	"gocv.io/x/gocv"

	"backend-pushupcounter/internal/detector"
	"backend-pushupcounter/internal/pose"
)

// ImageDetector is satisfied by *detector.Pool and *detector.Bridge.
type ImageDetector interface {
	Detect(ctx context.Context, img detector.Image) (*pose.LandmarkFrame, error)
}

// LandmarkDetector JPEG-encodes frames for an ImageDetector. It implements
// pipeline.Detector and is safe for concurrent use when Inner is.
type LandmarkDetector struct {
	Inner   ImageDetector
	Quality int

	seq atomic.Int64
}

func NewLandmarkDetector(inner ImageDetector) *LandmarkDetector {
	return &LandmarkDetector{Inner: inner, Quality: 90}
}

func (d *LandmarkDetector) Detect(ctx context.Context, frame gocv.Mat) (*pose.LandmarkFrame, error) {
	data, err := EncodeJPEG(frame, d.Quality)
	if err != nil {
		return nil, err
	}

	img := detector.Image{
		Seq:    int(d.seq.Add(1) - 1),
		Width:  frame.Cols(),
		Height: frame.Rows(),
		Data:   data,
	}
	return d.Inner.Detect(ctx, img)
}

// EncodeJPEG returns a Go-owned copy of the encoded frame.
func EncodeJPEG(frame gocv.Mat, quality int) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty frame")
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}
