// Package processor runs one video file through detection, counting and
// annotation, producing an annotated output file.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"backend-pushupcounter/internal/detector"
	"backend-pushupcounter/internal/pipeline"
	"backend-pushupcounter/internal/pose"
	"backend-pushupcounter/internal/repcount"
	"backend-pushupcounter/internal/video"
)

var ErrDetectorUnavailable = errors.New("pose detector unavailable")

// LandmarkSource is a session-scoped detector. *detector.Pool satisfies it.
type LandmarkSource interface {
	video.ImageDetector
	Close() error
}

// Opener acquires a LandmarkSource for one session.
type Opener func(ctx context.Context) (LandmarkSource, error)

// PoolOpener starts cfg.Workers pose workers per session.
func PoolOpener(cfg detector.Config) Opener {
	return func(ctx context.Context) (LandmarkSource, error) {
		pool, err := detector.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}

// Progress receives the number of processed frames and the running count.
type Progress func(frames, count int)

type frameReader interface {
	pipeline.Source[gocv.Mat]
	FPS() float64
	Size() image.Point
	Close() error
}

type frameWriter interface {
	pipeline.Sink[gocv.Mat]
	Close() error
}

var (
	openReader = func(path string) (frameReader, error) {
		r, err := video.OpenReader(path)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	createWriter = func(path, codec string, fps float64, size image.Point) (frameWriter, error) {
		w, err := video.CreateWriter(path, codec, fps, size)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
)

type Processor struct {
	Open       Opener
	Classifier pose.Classifier
	Annotator  *video.Annotator
	Workers    int
	FPS        float64
	Codec      string
	GapReset   int
}

// Run processes in and writes the annotated video to out. A failed encode
// still returns the full count together with an error wrapping
// pipeline.ErrEncode.
func (p *Processor) Run(ctx context.Context, in, out string, progress Progress) (pipeline.Result, error) {
	if p.Open == nil {
		return pipeline.Result{}, ErrDetectorUnavailable
	}
	started := time.Now()

	reader, err := openReader(in)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %w", pipeline.ErrSourceRead, err)
	}
	defer reader.Close()

	source, err := p.Open(ctx)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
	}
	defer func() {
		if cerr := source.Close(); cerr != nil {
			slog.Warn("close pose detector failed", "error", cerr)
		}
	}()

	writer, err := createWriter(out, p.Codec, p.outputFPS(reader), reader.Size())
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("%w: %w", pipeline.ErrEncode, err)
	}

	annotator := p.Annotator
	if annotator == nil {
		annotator = video.NewAnnotator()
	}
	pl := &pipeline.Pipeline[gocv.Mat]{
		Detector:   video.NewLandmarkDetector(source),
		Annotator:  annotator,
		Classifier: p.Classifier,
		Workers:    p.Workers,
		Release:    func(m gocv.Mat) { m.Close() },
	}
	if progress != nil {
		pl.OnFrame = func(fr pipeline.FrameResult) {
			progress(fr.Index+1, fr.Count)
		}
	}

	res, runErr := pl.Run(ctx, reader, repcount.New(repcount.WithGapReset(p.GapReset)), writer)
	if cerr := writer.Close(); cerr != nil && runErr == nil {
		runErr = fmt.Errorf("%w: close %s: %w", pipeline.ErrEncode, out, cerr)
	}

	slog.Info("video processed",
		"input", in,
		"output", out,
		"frames", res.Frames,
		"count", res.Count,
		"unknown", res.Unknown,
		"partial", res.Partial,
		"elapsed", time.Since(started),
		"error", runErr,
	)
	return res, runErr
}

func (p *Processor) outputFPS(r frameReader) float64 {
	if p.FPS > 0 {
		return p.FPS
	}
	if fps := r.FPS(); fps > 0 {
		return fps
	}
	return video.DefaultFPS
}
