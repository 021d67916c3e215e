package detector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"backend-pushupcounter/internal/pose"
)

var (
	ErrClosed   = errors.New("detector closed")
	ErrTimeout  = errors.New("detector request timed out")
	ErrProtocol = errors.New("detector protocol error")
	ErrWorker   = errors.New("detector worker error")
)

// Bridge owns one worker process. Requests are serialized; a bridge that
// timed out or hit a protocol error is unusable because the stream can no
// longer be trusted to be aligned.
type Bridge struct {
	id      string
	timeout time.Duration

	mu     sync.Mutex
	stdin  io.WriteCloser
	stdout io.Reader
	broken bool

	cmd    *exec.Cmd
	exited chan struct{}

	closeOnce sync.Once
	closeErr  error

	requests atomic.Uint64
	failures atomic.Uint64
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

var startProcess = func(ctx context.Context, cfg Config) (*process, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.commandArgs()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command, err)
	}
	return &process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// StartBridge spawns a worker process. The process is killed when ctx is
// cancelled, so ctx should span the whole session.
func StartBridge(ctx context.Context, id string, cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	proc, err := startProcess(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := newBridge(id, proc.stdin, proc.stdout, cfg.timeout())
	b.cmd = proc.cmd
	b.exited = make(chan struct{})

	if proc.stderr != nil {
		go b.logStderr(proc.stderr)
	}
	go b.waitProcess()

	slog.Info("pose worker started",
		"worker_id", id,
		"command", cfg.Command,
		"pid", proc.cmd.Process.Pid,
		"min_detection_confidence", cfg.MinDetectionConfidence,
		"min_tracking_confidence", cfg.MinTrackingConfidence,
	)
	return b, nil
}

func newBridge(id string, stdin io.WriteCloser, stdout io.Reader, timeout time.Duration) *Bridge {
	return &Bridge{
		id:      id,
		timeout: timeout,
		stdin:   stdin,
		stdout:  stdout,
	}
}

func (b *Bridge) ID() string {
	return b.id
}

// Detect sends img to the worker and waits for its landmarks. It returns
// (nil, nil) when the worker found no pose.
func (b *Bridge) Detect(ctx context.Context, img Image) (*pose.LandmarkFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return nil, ErrClosed
	}
	b.requests.Add(1)

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		req := request{Seq: img.Seq, Width: img.Width, Height: img.Height, FrameData: img.Data}
		if err := writeMessage(b.stdin, req); err != nil {
			done <- result{err: err}
			return
		}
		var resp response
		err := readMessage(b.stdout, &resp)
		done <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	var r result
	select {
	case r = <-done:
	case <-timer.C:
		b.fail()
		return nil, fmt.Errorf("%w: frame %d after %s", ErrTimeout, img.Seq, b.timeout)
	case <-ctx.Done():
		b.fail()
		return nil, ctx.Err()
	}

	if r.err != nil {
		b.fail()
		if errors.Is(r.err, io.EOF) || errors.Is(r.err, io.ErrClosedPipe) {
			return nil, fmt.Errorf("%w: worker exited: %v", ErrClosed, r.err)
		}
		return nil, r.err
	}
	if r.resp.Seq != img.Seq {
		b.fail()
		return nil, fmt.Errorf("%w: expected seq %d, got %d", ErrProtocol, img.Seq, r.resp.Seq)
	}
	if r.resp.Error != "" {
		b.failures.Add(1)
		return nil, fmt.Errorf("%w: %s", ErrWorker, r.resp.Error)
	}
	if len(r.resp.Landmarks) == 0 {
		return nil, nil
	}
	return pose.NewLandmarkFrame(r.resp.Landmarks), nil
}

// fail marks the bridge unusable and tears the worker down so any blocked
// reader returns. Callers hold b.mu.
func (b *Bridge) fail() {
	b.failures.Add(1)
	b.broken = true
	go func() { _ = b.Close() }()
}

// Stats returns the request and failure counters.
func (b *Bridge) Stats() (requests, failures uint64) {
	return b.requests.Load(), b.failures.Load()
}

// Close closes the worker's stdin, waits for it to exit and kills it if it
// does not exit within the timeout. Safe to call more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		if b.stdin != nil {
			_ = b.stdin.Close()
		}
		if c, ok := b.stdout.(io.Closer); ok && b.cmd == nil {
			_ = c.Close()
		}
		if b.cmd == nil || b.exited == nil {
			return
		}

		select {
		case <-b.exited:
		case <-time.After(b.timeout):
			slog.Warn("pose worker stop timeout, killing process", "worker_id", b.id)
			if b.cmd.Process != nil {
				if err := b.cmd.Process.Kill(); err != nil {
					b.closeErr = fmt.Errorf("kill worker %s: %w", b.id, err)
				}
			}
			<-b.exited
		}

		requests, failures := b.Stats()
		slog.Info("pose worker stopped", "worker_id", b.id, "requests", requests, "failures", failures)
	})
	return b.closeErr
}

func (b *Bridge) waitProcess() {
	defer close(b.exited)

	if err := b.cmd.Wait(); err != nil {
		slog.Debug("pose worker exited", "worker_id", b.id, "error", err)
		return
	}
	slog.Debug("pose worker exited cleanly", "worker_id", b.id)
}

// logStderr forwards worker logs of the form "... [LEVEL] message".
func (b *Bridge) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("pose worker error", "worker_id", b.id, "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("pose worker warning", "worker_id", b.id, "log", line)
		default:
			slog.Debug("pose worker log", "worker_id", b.id, "log", line)
		}
	}
}
