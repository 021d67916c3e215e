// Package pipeline folds a stream of video frames through landmark detection,
// posture classification and the repetition counter.
//
// Frames are consumed strictly in order. Detection is the only stage allowed
// to run in parallel: a window of up to Workers frames is detected
// concurrently, then the results are folded through the counter one by one in
// their input order before the next window is read.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"backend-pushupcounter/internal/pose"
	"backend-pushupcounter/internal/repcount"
)

var (
	ErrSourceRead = errors.New("frame source read failed")
	ErrDetect     = errors.New("landmark detection failed")
	ErrAnnotate   = errors.New("frame annotation failed")
	ErrEncode     = errors.New("frame sink write failed")
)

// Source yields frames in order. Next returns io.EOF once the stream is
// exhausted; any other error is a read failure.
type Source[F any] interface {
	Next(ctx context.Context) (F, error)
}

// Detector returns the landmarks of one frame, or nil when no pose is found.
// A non-nil error means the detector itself failed.
type Detector[F any] interface {
	Detect(ctx context.Context, frame F) (*pose.LandmarkFrame, error)
}

type DetectorFunc[F any] func(ctx context.Context, frame F) (*pose.LandmarkFrame, error)

func (fn DetectorFunc[F]) Detect(ctx context.Context, frame F) (*pose.LandmarkFrame, error) {
	return fn(ctx, frame)
}

// Annotator draws the overlay for a frame. lm is nil when no pose was found.
type Annotator[F any] interface {
	Annotate(frame F, lm *pose.LandmarkFrame, count int) (F, error)
}

// Sink receives annotated frames in input order. The sink owns every frame
// passed to Write, including when Write fails.
type Sink[F any] interface {
	Write(frame F) error
}

// FrameResult describes one folded frame.
type FrameResult struct {
	Index       int
	Posture     pose.Posture
	Count       int
	Incremented bool
	Detected    bool
}

// Result summarizes a run. Partial is set when the run stopped before the
// source was exhausted; the counts then cover only the frames folded so far.
type Result struct {
	Count    int  `json:"count"`
	Frames   int  `json:"frames"`
	Detected int  `json:"detected"`
	Unknown  int  `json:"unknown"`
	Partial  bool `json:"partial"`
}

type Pipeline[F any] struct {
	Detector   Detector[F]
	Annotator  Annotator[F]
	Classifier pose.Classifier

	// Workers bounds concurrent detections. Values below 1 mean sequential.
	Workers int

	// OnFrame is called after each frame is folded, in order.
	OnFrame func(FrameResult)

	// Release is called for frames that never reach the sink, e.g. after a
	// sink failure or when a run is aborted.
	Release func(F)
}

// Run processes src to exhaustion using counter, which must not be shared
// with another in-flight run. A nil counter gets a fresh one.
//
// Source, detection, annotation and context failures abort the run and
// return a Partial result. A sink failure does not abort: the remaining
// frames are still counted so the final count is complete, and the returned
// error wraps ErrEncode.
func (p *Pipeline[F]) Run(ctx context.Context, src Source[F], counter *repcount.Counter, sink Sink[F]) (Result, error) {
	if counter == nil {
		counter = repcount.New()
	}
	if err := counter.Acquire(); err != nil {
		return Result{}, err
	}
	defer counter.Release()

	classifier := p.Classifier
	if classifier == nil {
		classifier = pose.NewPushUpClassifier()
	}
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		res     Result
		sinkErr error
	)
	res.Count = counter.Count()

	for {
		if err := ctx.Err(); err != nil {
			res.Partial = true
			return res, err
		}

		batch, readErr := readBatch(ctx, src, workers)
		landmarks, detectErrs := p.detectBatch(ctx, batch)

		for i, frame := range batch {
			if detectErrs[i] != nil {
				p.release(batch[i:])
				res.Partial = true
				return res, fmt.Errorf("%w: frame %d: %w", ErrDetect, res.Frames, detectErrs[i])
			}

			out, err := p.fold(frame, landmarks[i], classifier, counter, &res)
			if err != nil {
				p.release(batch[i+1:])
				res.Partial = true
				return res, err
			}

			if sink == nil || sinkErr != nil {
				p.release([]F{out})
				continue
			}
			if err := sink.Write(out); err != nil {
				sinkErr = fmt.Errorf("%w: frame %d: %w", ErrEncode, res.Frames-1, err)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			res.Partial = true
			return res, fmt.Errorf("%w: %w", ErrSourceRead, readErr)
		}
	}

	if sinkErr != nil {
		return res, sinkErr
	}
	return res, nil
}

func (p *Pipeline[F]) fold(frame F, lm *pose.LandmarkFrame, classifier pose.Classifier, counter *repcount.Counter, res *Result) (F, error) {
	posture := classifier.Classify(lm)
	count, inc := counter.Observe(posture)

	fr := FrameResult{
		Index:       res.Frames,
		Posture:     posture,
		Count:       count,
		Incremented: inc,
		Detected:    lm != nil,
	}
	res.Frames++
	res.Count = count
	if lm != nil {
		res.Detected++
	}
	if posture == pose.Unknown {
		res.Unknown++
	}

	out := frame
	if p.Annotator != nil {
		annotated, err := p.Annotator.Annotate(frame, lm, count)
		if err != nil {
			p.release([]F{frame})
			return out, fmt.Errorf("%w: frame %d: %w", ErrAnnotate, fr.Index, err)
		}
		out = annotated
	}

	if p.OnFrame != nil {
		p.OnFrame(fr)
	}
	return out, nil
}

func (p *Pipeline[F]) detectBatch(ctx context.Context, batch []F) ([]*pose.LandmarkFrame, []error) {
	landmarks := make([]*pose.LandmarkFrame, len(batch))
	errs := make([]error, len(batch))
	if p.Detector == nil || len(batch) == 0 {
		return landmarks, errs
	}

	if len(batch) == 1 {
		landmarks[0], errs[0] = p.Detector.Detect(ctx, batch[0])
		return landmarks, errs
	}

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			landmarks[i], errs[i] = p.Detector.Detect(ctx, batch[i])
		}(i)
	}
	wg.Wait()
	return landmarks, errs
}

func (p *Pipeline[F]) release(frames []F) {
	if p.Release == nil {
		return
	}
	for _, f := range frames {
		p.Release(f)
	}
}

func readBatch[F any](ctx context.Context, src Source[F], n int) ([]F, error) {
	batch := make([]F, 0, n)
	for len(batch) < n {
		frame, err := src.Next(ctx)
		if err != nil {
			return batch, err
		}
		batch = append(batch, frame)
	}
	return batch, nil
}

// Process runs frames through a fresh session and returns the annotated
// frames with the final count. On failure no frames are returned.
func Process[F any](ctx context.Context, frames []F, det Detector[F], ann Annotator[F], cls pose.Classifier) ([]F, int, error) {
	p := &Pipeline[F]{Detector: det, Annotator: ann, Classifier: cls}
	sink := &CollectSink[F]{}

	res, err := p.Run(ctx, NewSliceSource(frames), repcount.New(), sink)
	if err != nil {
		return nil, res.Count, err
	}
	return sink.Frames, res.Count, nil
}
