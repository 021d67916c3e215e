// Command pushup counts push-ups in a local video file and writes the
// annotated video plus a YAML report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"backend-pushupcounter/internal/config"
	"backend-pushupcounter/internal/pipeline"
	"backend-pushupcounter/internal/processor"
	"backend-pushupcounter/internal/video"

	"github.com/cheggaaa/pb/v3"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const barTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.01f%%" "?"}} {{etime . "%s elapsed"}} {{string . "count"}}`

type runner interface {
	Run(ctx context.Context, in, out string, progress processor.Progress) (pipeline.Result, error)
}

var (
	newRunner = func(cfg config.Config) runner {
		return processor.FromConfig(cfg)
	}
	probeFrames = func(path string) int {
		info, err := video.Probe(path)
		if err != nil {
			return 0
		}
		return info.Frames
	}
)

type Report struct {
	Input       string    `yaml:"input"`
	Output      string    `yaml:"output"`
	Count       int       `yaml:"count"`
	Frames      int       `yaml:"frames"`
	Detected    int       `yaml:"detected_frames"`
	Unknown     int       `yaml:"unknown_frames"`
	Partial     bool      `yaml:"partial,omitempty"`
	Error       string    `yaml:"error,omitempty"`
	Elapsed     string    `yaml:"elapsed"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("pushup failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_ = godotenv.Load()
	cfg := config.Load()

	fs := flag.NewFlagSet("pushup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "input video path")
	out := fs.String("out", "", "annotated output path (default processed_<input>)")
	reportPath := fs.String("report", "-", "YAML report path, - for stdout")
	quiet := fs.Bool("quiet", false, "disable the progress bar")
	fs.StringVar(&cfg.DetectorCommand, "detector", cfg.DetectorCommand, "pose worker command")
	fs.StringVar(&cfg.DetectorArgs, "detector-args", cfg.DetectorArgs, "pose worker arguments")
	fs.IntVar(&cfg.DetectorWorkers, "workers", cfg.DetectorWorkers, "pose worker processes")
	fs.Float64Var(&cfg.OutputFPS, "fps", cfg.OutputFPS, "output frame rate, 0 keeps the input rate")
	fs.StringVar(&cfg.VideoCodec, "codec", cfg.VideoCodec, "output fourcc")
	fs.Float64Var(&cfg.MinJointVisibility, "min-visibility", cfg.MinJointVisibility, "lowest accepted joint visibility")
	fs.IntVar(&cfg.GapResetFrames, "gap-reset", cfg.GapResetFrames, "reset after this many frames without a pose, 0 never")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" && fs.NArg() > 0 {
		*in = fs.Arg(0)
	}
	if *in == "" {
		fs.Usage()
		return errors.New("input video required")
	}
	if *out == "" {
		*out = defaultOutput(*in)
	}

	config.SetupLogger(stderr, cfg.LogLevel)

	var bar *pb.ProgressBar
	progress := func(int, int) {}
	if !*quiet {
		bar = pb.ProgressBarTemplate(barTemplate).New(probeFrames(*in))
		bar.SetWriter(stderr)
		bar.Set("prefix", filepath.Base(*in))
		bar.Start()
		progress = func(frames, count int) {
			bar.SetCurrent(int64(frames))
			bar.Set("count", fmt.Sprintf("push-ups: %d", count))
		}
	}

	started := time.Now()
	res, runErr := newRunner(cfg).Run(ctx, *in, *out, progress)
	if bar != nil {
		bar.Finish()
	}

	report := Report{
		Input:       *in,
		Output:      *out,
		Count:       res.Count,
		Frames:      res.Frames,
		Detected:    res.Detected,
		Unknown:     res.Unknown,
		Partial:     res.Partial,
		Elapsed:     time.Since(started).Round(time.Millisecond).String(),
		GeneratedAt: time.Now().UTC(),
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if err := writeReport(*reportPath, stdout, report); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func defaultOutput(in string) string {
	dir, name := filepath.Split(in)
	ext := filepath.Ext(name)
	return filepath.Join(dir, "processed_"+strings.TrimSuffix(name, ext)+".mp4")
}

func writeReport(path string, stdout io.Writer, report Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if path == "-" || path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
