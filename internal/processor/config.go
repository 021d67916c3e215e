package processor

import (
	"backend-pushupcounter/internal/config"
	"backend-pushupcounter/internal/detector"
	"backend-pushupcounter/internal/pose"
)

// DetectorConfig maps service configuration onto the pose worker settings.
func DetectorConfig(cfg config.Config) detector.Config {
	d := detector.DefaultConfig()
	if cfg.DetectorCommand != "" {
		d.Command = cfg.DetectorCommand
	}
	d.Args = cfg.DetectorArgList()
	if cfg.DetectorWorkers > 0 {
		d.Workers = cfg.DetectorWorkers
	}
	if cfg.DetectorTimeout > 0 {
		d.Timeout = cfg.DetectorTimeout
	}
	// Copied as given; Validate rejects values outside [0,1].
	d.MinDetectionConfidence = cfg.MinDetectionConfidence
	d.MinTrackingConfidence = cfg.MinTrackingConfidence
	return d
}

func FromConfig(cfg config.Config) *Processor {
	d := DetectorConfig(cfg)
	return &Processor{
		Open:       PoolOpener(d),
		Classifier: pose.PushUpClassifier{MinVisibility: cfg.MinJointVisibility},
		Workers:    d.Workers,
		FPS:        cfg.OutputFPS,
		Codec:      cfg.VideoCodec,
		GapReset:   cfg.GapResetFrames,
	}
}
