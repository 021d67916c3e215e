package detector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"backend-pushupcounter/internal/pose"
)

// startFake serves the wire protocol over in-memory pipes.
func startFake(t *testing.T, timeout time.Duration, handle func(req request) (response, bool)) *Bridge {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		defer respW.Close()
		for {
			var req request
			if err := readMessage(reqR, &req); err != nil {
				return
			}
			resp, ok := handle(req)
			if !ok {
				continue
			}
			if err := writeMessage(respW, resp); err != nil {
				return
			}
		}
	}()

	b := newBridge("fake", reqW, respR, timeout)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func upRows() [][]float64 {
	rows := make([][]float64, pose.NumJoints)
	for i := range rows {
		rows[i] = []float64{0.5, 0.5, 0, 0.9, 1}
	}
	rows[pose.LeftElbow] = []float64{0.4, 0.4, 0, 0.9, 1}
	rows[pose.RightElbow] = []float64{0.6, 0.4, 0, 0.9, 1}
	return rows
}

func TestProtocolFraming(t *testing.T) {
	var buf bytes.Buffer
	in := request{Seq: 3, Width: 2, Height: 1, FrameData: []byte{1, 2, 3}}
	if err := writeMessage(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() < 4 {
		t.Fatalf("expected length prefix")
	}

	var out request
	if err := readMessage(&buf, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Seq != 3 || !bytes.Equal(out.FrameData, in.FrameData) {
		t.Fatalf("unexpected request %+v", out)
	}

	if err := readMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), &out); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error for oversized message, got %v", err)
	}
	if err := readMessage(bytes.NewReader([]byte{0, 0, 0, 1, 0xc1}), &out); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error for bad payload, got %v", err)
	}
}

func TestBridgeDetect(t *testing.T) {
	b := startFake(t, time.Second, func(req request) (response, bool) {
		if req.Seq%2 == 1 {
			return response{Seq: req.Seq}, true
		}
		return response{Seq: req.Seq, Landmarks: upRows()}, true
	})

	lm, err := b.Detect(context.Background(), Image{Seq: 0, Width: 4, Height: 4, Data: []byte("jpeg")})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if lm == nil || lm.Detected() != pose.NumJoints {
		t.Fatalf("expected full landmark frame")
	}
	if got := pose.NewPushUpClassifier().Classify(lm); got != pose.Up {
		t.Fatalf("expected UP landmarks, got %s", got)
	}

	lm, err = b.Detect(context.Background(), Image{Seq: 1})
	if err != nil || lm != nil {
		t.Fatalf("expected no pose, got %v %v", lm, err)
	}

	requests, failures := b.Stats()
	if requests != 2 || failures != 0 {
		t.Fatalf("unexpected stats %d/%d", requests, failures)
	}
}

func TestBridgeWorkerError(t *testing.T) {
	b := startFake(t, time.Second, func(req request) (response, bool) {
		return response{Seq: req.Seq, Error: "bad jpeg"}, true
	})

	if _, err := b.Detect(context.Background(), Image{Seq: 5}); !errors.Is(err, ErrWorker) {
		t.Fatalf("expected worker error, got %v", err)
	}
	// worker errors are per frame; the bridge stays usable
	if _, err := b.Detect(context.Background(), Image{Seq: 6}); !errors.Is(err, ErrWorker) {
		t.Fatalf("expected second worker error, got %v", err)
	}
}

func TestBridgeSeqMismatchBreaksBridge(t *testing.T) {
	b := startFake(t, time.Second, func(req request) (response, bool) {
		return response{Seq: req.Seq + 1}, true
	})

	if _, err := b.Detect(context.Background(), Image{Seq: 1}); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if _, err := b.Detect(context.Background(), Image{Seq: 2}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed bridge, got %v", err)
	}
}

func TestBridgeTimeout(t *testing.T) {
	b := startFake(t, 20*time.Millisecond, func(request) (response, bool) {
		return response{}, false
	})

	if _, err := b.Detect(context.Background(), Image{Seq: 1}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, err := b.Detect(context.Background(), Image{Seq: 2}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed after timeout, got %v", err)
	}
}

func TestBridgeContextCancel(t *testing.T) {
	b := startFake(t, time.Second, func(request) (response, bool) {
		return response{}, false
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Detect(ctx, Image{Seq: 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestBridgeWorkerExit(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		var req request
		_ = readMessage(reqR, &req)
		respW.Close()
	}()

	b := newBridge("exiting", reqW, respR, time.Second)
	defer b.Close()

	if _, err := b.Detect(context.Background(), Image{Seq: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error when worker exits, got %v", err)
	}
}

func TestPoolDetectConcurrent(t *testing.T) {
	handler := func(req request) (response, bool) {
		time.Sleep(2 * time.Millisecond)
		return response{Seq: req.Seq, Landmarks: upRows()}, true
	}
	pool := NewPool(startFake(t, time.Second, handler), startFake(t, time.Second, handler))
	defer pool.Close()

	if pool.Size() != 2 {
		t.Fatalf("expected 2 bridges")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			lm, err := pool.Detect(context.Background(), Image{Seq: seq})
			if err == nil && lm == nil {
				err = errors.New("missing landmarks")
			}
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("pool detect: %v", err)
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := pool.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEmptyPool(t *testing.T) {
	if _, err := NewPool().Detect(context.Background(), Image{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed for empty pool, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := []Config{
		{Command: "", MinDetectionConfidence: 0.5, MinTrackingConfidence: 0.5, Workers: 1},
		{Command: "x", MinDetectionConfidence: 1.5, MinTrackingConfidence: 0.5, Workers: 1},
		{Command: "x", MinDetectionConfidence: 0.5, MinTrackingConfidence: -0.1, Workers: 1},
		{Command: "x", MinDetectionConfidence: 0.5, MinTrackingConfidence: 0.5, Workers: 0},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	args := Config{Args: []string{"--model", "full"}, MinDetectionConfidence: 0.5, MinTrackingConfidence: 0.25}.commandArgs()
	want := []string{"--model", "full", "--min-detection-confidence", "0.50", "--min-tracking-confidence", "0.25"}
	if len(args) != len(want) {
		t.Fatalf("unexpected args %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("unexpected args %v", args)
		}
	}
}

func TestOpenMissingCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Command = "/nonexistent/pose-worker-binary"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestOpenClosesStartedOnFailure(t *testing.T) {
	old := startProcess
	defer func() { startProcess = old }()

	calls := 0
	startProcess = func(ctx context.Context, cfg Config) (*process, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("spawn failed")
		}
		return old(ctx, Config{Command: "cat"})
	}

	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg.Timeout = 200 * time.Millisecond
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected open error")
	}
	if calls != 2 {
		t.Fatalf("expected to stop after failing worker, got %d calls", calls)
	}
}
