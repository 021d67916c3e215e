package pipeline

import (
	"context"
	"io"
)

// SliceSource serves frames from memory.
type SliceSource[F any] struct {
	frames []F
	next   int
}

func NewSliceSource[F any](frames []F) *SliceSource[F] {
	return &SliceSource[F]{frames: frames}
}

func (s *SliceSource[F]) Next(ctx context.Context) (F, error) {
	var zero F
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if s.next >= len(s.frames) {
		return zero, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

// CollectSink keeps every written frame in order.
type CollectSink[F any] struct {
	Frames []F
}

func (s *CollectSink[F]) Write(frame F) error {
	s.Frames = append(s.Frames, frame)
	return nil
}
