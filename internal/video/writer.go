package video

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"
)

const (
	DefaultCodec  = "avc1"
	fallbackCodec = "mp4v"
	DefaultFPS    = 25.0
)

// Writer encodes frames into a video file. It implements pipeline.Sink and
// takes ownership of every frame passed to Write.
type Writer struct {
	writer  *gocv.VideoWriter
	path    string
	size    image.Point
	written int
}

// CreateWriter opens path for writing. When codec cannot be opened by the
// local OpenCV build, mp4v is tried before giving up.
func CreateWriter(path, codec string, fps float64, size image.Point) (*Writer, error) {
	if codec == "" {
		codec = DefaultCodec
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size %dx%d", ErrOpen, size.X, size.Y)
	}

	vw, err := openWriter(path, codec, fps, size)
	if err != nil && codec != fallbackCodec {
		slog.Warn("video codec unavailable, falling back", "codec", codec, "fallback", fallbackCodec, "error", err)
		vw, err = openWriter(path, fallbackCodec, fps, size)
	}
	if err != nil {
		return nil, err
	}
	return &Writer{writer: vw, path: path, size: size}, nil
}

func openWriter(path, codec string, fps float64, size image.Point) (*gocv.VideoWriter, error) {
	vw, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrOpen, path, codec, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("%w: %s (%s)", ErrOpen, path, codec)
	}
	return vw, nil
}

func (w *Writer) Write(frame gocv.Mat) error {
	defer frame.Close()

	if frame.Cols() != w.size.X || frame.Rows() != w.size.Y {
		return fmt.Errorf("%w: frame %d is %dx%d, writer expects %dx%d",
			ErrWrite, w.written, frame.Cols(), frame.Rows(), w.size.X, w.size.Y)
	}
	if err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("%w: frame %d: %w", ErrWrite, w.written, err)
	}
	w.written++
	return nil
}

func (w *Writer) Written() int {
	return w.written
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	return w.writer.Close()
}
