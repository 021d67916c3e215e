package processor

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"backend-pushupcounter/internal/detector"
	"backend-pushupcounter/internal/pipeline"
	"backend-pushupcounter/internal/pose"
)

type fakeReader struct {
	frames  int
	served  int
	readErr error
	closed  bool
}

func (r *fakeReader) Next(ctx context.Context) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, err
	}
	if r.served >= r.frames {
		if r.readErr != nil {
			return gocv.Mat{}, r.readErr
		}
		return gocv.Mat{}, io.EOF
	}
	r.served++
	return gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3), nil
}

func (r *fakeReader) FPS() float64      { return 30 }
func (r *fakeReader) Size() image.Point { return image.Pt(64, 48) }
func (r *fakeReader) Close() error      { r.closed = true; return nil }

type fakeWriter struct {
	failAt  int
	written int
	closed  bool
	fps     float64
}

func (w *fakeWriter) Write(frame gocv.Mat) error {
	defer frame.Close()
	if w.failAt > 0 && w.written+1 >= w.failAt {
		return errors.New("disk full")
	}
	w.written++
	return nil
}

func (w *fakeWriter) Close() error { w.closed = true; return nil }

// scriptedSource answers detections in request order from a posture script.
type scriptedSource struct {
	mu     sync.Mutex
	script []pose.Posture
	calls  int
	closed bool
}

func (s *scriptedSource) Detect(_ context.Context, img detector.Image) (*pose.LandmarkFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pose.Unknown
	if img.Seq < len(s.script) {
		p = s.script[img.Seq]
	}
	s.calls++
	return postureFrame(p), nil
}

func (s *scriptedSource) Close() error { s.closed = true; return nil }

func postureFrame(p pose.Posture) *pose.LandmarkFrame {
	if p == pose.Unknown {
		return nil
	}
	elbowY := 0.7
	if p == pose.Up {
		elbowY = 0.3
	}
	lm := &pose.LandmarkFrame{}
	lm.Set(pose.LeftShoulder, pose.Landmark{X: 0.4, Y: 0.5, Visibility: 1})
	lm.Set(pose.RightShoulder, pose.Landmark{X: 0.6, Y: 0.5, Visibility: 1})
	lm.Set(pose.LeftElbow, pose.Landmark{X: 0.3, Y: elbowY, Visibility: 1})
	lm.Set(pose.RightElbow, pose.Landmark{X: 0.7, Y: elbowY, Visibility: 1})
	return lm
}

func stubIO(t *testing.T, r *fakeReader, w *fakeWriter) {
	t.Helper()
	prevReader, prevWriter := openReader, createWriter
	t.Cleanup(func() {
		openReader, createWriter = prevReader, prevWriter
	})
	openReader = func(string) (frameReader, error) { return r, nil }
	createWriter = func(_, _ string, fps float64, _ image.Point) (frameWriter, error) {
		w.fps = fps
		return w, nil
	}
}

func TestRunCountsAndWritesEveryFrame(t *testing.T) {
	script := []pose.Posture{pose.Down, pose.Up, pose.Down, pose.Up, pose.Unknown, pose.Down, pose.Up}
	r := &fakeReader{frames: len(script)}
	w := &fakeWriter{}
	stubIO(t, r, w)

	src := &scriptedSource{script: script}
	p := &Processor{
		Open: func(context.Context) (LandmarkSource, error) { return src, nil },
		FPS:  25,
	}

	var progress []int
	res, err := p.Run(context.Background(), "in.mp4", "out.mp4", func(frames, count int) {
		progress = append(progress, count)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Count != 3 || res.Frames != len(script) || res.Unknown != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if w.written != len(script) || !w.closed || !r.closed || !src.closed {
		t.Fatalf("expected all frames written and resources closed, writer=%+v reader=%+v", w, r)
	}
	if w.fps != 25 {
		t.Fatalf("expected configured fps, got %v", w.fps)
	}
	if len(progress) != len(script) || progress[len(progress)-1] != 3 {
		t.Fatalf("unexpected progress %v", progress)
	}
}

func TestRunFallsBackToSourceFPS(t *testing.T) {
	r := &fakeReader{}
	w := &fakeWriter{}
	stubIO(t, r, w)

	p := &Processor{Open: func(context.Context) (LandmarkSource, error) { return &scriptedSource{}, nil }}
	if _, err := p.Run(context.Background(), "in", "out", nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if w.fps != 30 {
		t.Fatalf("expected source fps, got %v", w.fps)
	}
}

func TestRunEncodeFailureKeepsCount(t *testing.T) {
	script := []pose.Posture{pose.Down, pose.Up, pose.Down, pose.Up}
	r := &fakeReader{frames: len(script)}
	w := &fakeWriter{failAt: 2}
	stubIO(t, r, w)

	p := &Processor{Open: func(context.Context) (LandmarkSource, error) { return &scriptedSource{script: script}, nil }}
	res, err := p.Run(context.Background(), "in", "out", nil)
	if !errors.Is(err, pipeline.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	if res.Count != 2 || res.Partial {
		t.Fatalf("expected full count despite encode failure, got %+v", res)
	}
}

func TestRunSourceReadFailure(t *testing.T) {
	r := &fakeReader{frames: 2, readErr: errors.New("corrupt packet")}
	w := &fakeWriter{}
	stubIO(t, r, w)

	p := &Processor{Open: func(context.Context) (LandmarkSource, error) { return &scriptedSource{}, nil }}
	res, err := p.Run(context.Background(), "in", "out", nil)
	if !errors.Is(err, pipeline.ErrSourceRead) || !res.Partial {
		t.Fatalf("expected partial read failure, got %+v %v", res, err)
	}
}

func TestRunOpenReaderFailure(t *testing.T) {
	prev := openReader
	t.Cleanup(func() { openReader = prev })
	openReader = func(string) (frameReader, error) { return nil, errors.New("no such file") }

	opened := false
	p := &Processor{Open: func(context.Context) (LandmarkSource, error) {
		opened = true
		return &scriptedSource{}, nil
	}}
	if _, err := p.Run(context.Background(), "in", "out", nil); !errors.Is(err, pipeline.ErrSourceRead) {
		t.Fatalf("expected ErrSourceRead, got %v", err)
	}
	if opened {
		t.Fatalf("detector must not be started when the input cannot be opened")
	}
}

func TestRunDetectorUnavailable(t *testing.T) {
	r := &fakeReader{}
	stubIO(t, r, &fakeWriter{})

	p := &Processor{Open: func(context.Context) (LandmarkSource, error) { return nil, errors.New("python missing") }}
	if _, err := p.Run(context.Background(), "in", "out", nil); !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable, got %v", err)
	}
	if !r.closed {
		t.Fatalf("reader should be closed")
	}

	if _, err := (&Processor{}).Run(context.Background(), "in", "out", nil); !errors.Is(err, ErrDetectorUnavailable) {
		t.Fatalf("expected ErrDetectorUnavailable without opener, got %v", err)
	}
}
