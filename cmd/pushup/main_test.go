package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"backend-pushupcounter/internal/config"
	"backend-pushupcounter/internal/pipeline"
	"backend-pushupcounter/internal/processor"

	"gopkg.in/yaml.v3"
)

type stubRunner struct {
	cfg    config.Config
	in     string
	out    string
	result pipeline.Result
	err    error
}

func (s *stubRunner) Run(_ context.Context, in, out string, progress processor.Progress) (pipeline.Result, error) {
	s.in, s.out = in, out
	for i := 1; i <= s.result.Frames; i++ {
		progress(i, s.result.Count)
	}
	return s.result, s.err
}

func stub(t *testing.T, r *stubRunner) {
	t.Helper()
	prevRunner, prevProbe := newRunner, probeFrames
	t.Cleanup(func() { newRunner, probeFrames = prevRunner, prevProbe })
	newRunner = func(cfg config.Config) runner {
		r.cfg = cfg
		return r
	}
	probeFrames = func(string) int { return r.result.Frames }
}

func TestRunWritesReport(t *testing.T) {
	r := &stubRunner{result: pipeline.Result{Count: 4, Frames: 90, Detected: 85, Unknown: 5}}
	stub(t, r)

	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.yaml")
	var stdout, stderr bytes.Buffer
	args := []string{"-in", filepath.Join(dir, "clip.mov"), "-report", reportPath, "-workers", "2", "-gap-reset", "10"}
	if err := run(context.Background(), args, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}

	if r.out != filepath.Join(dir, "processed_clip.mp4") {
		t.Fatalf("unexpected default output %q", r.out)
	}
	if r.cfg.DetectorWorkers != 2 || r.cfg.GapResetFrames != 10 {
		t.Fatalf("flags not applied: %+v", r.cfg)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report Report
	if err := yaml.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Count != 4 || report.Frames != 90 || report.Unknown != 5 || report.Error != "" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunReportsFailureWithCount(t *testing.T) {
	r := &stubRunner{result: pipeline.Result{Count: 2, Frames: 10}, err: pipeline.ErrEncode}
	stub(t, r)

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-quiet", "-out", "x.mp4", "in.mp4"}, &stdout, &stderr)
	if !errors.Is(err, pipeline.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	if r.in != "in.mp4" || r.out != "x.mp4" {
		t.Fatalf("unexpected paths %q %q", r.in, r.out)
	}

	var report Report
	if err := yaml.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Count != 2 || report.Error == "" {
		t.Fatalf("expected failure report with count, got %+v", report)
	}
}

func TestRunRequiresInput(t *testing.T) {
	stub(t, &stubRunner{})
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), nil, &stdout, &stderr); err == nil {
		t.Fatalf("expected error without input")
	}
}

func TestDefaultOutput(t *testing.T) {
	if got := defaultOutput("videos/a.b.avi"); got != filepath.Join("videos", "processed_a.b.mp4") {
		t.Fatalf("unexpected output %q", got)
	}
}
