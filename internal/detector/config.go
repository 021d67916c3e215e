package detector

import (
	"errors"
	"fmt"
	"time"
)

type Config struct {
	Command string
	Args    []string

	// MinDetectionConfidence and MinTrackingConfidence are forwarded to the
	// worker and must be in [0,1].
	MinDetectionConfidence float64
	MinTrackingConfidence  float64

	// Workers is the number of worker processes started per session.
	Workers int

	// Timeout bounds a single detection round trip and the shutdown wait.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Command:                "pose_worker",
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
		Workers:                1,
		Timeout:                5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Command == "" {
		return errors.New("detector command is required")
	}
	if c.MinDetectionConfidence < 0 || c.MinDetectionConfidence > 1 {
		return fmt.Errorf("min detection confidence %.2f out of range [0,1]", c.MinDetectionConfidence)
	}
	if c.MinTrackingConfidence < 0 || c.MinTrackingConfidence > 1 {
		return fmt.Errorf("min tracking confidence %.2f out of range [0,1]", c.MinTrackingConfidence)
	}
	if c.Workers < 1 {
		return fmt.Errorf("detector workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

func (c Config) commandArgs() []string {
	args := append([]string{}, c.Args...)
	return append(args,
		"--min-detection-confidence", fmt.Sprintf("%.2f", c.MinDetectionConfidence),
		"--min-tracking-confidence", fmt.Sprintf("%.2f", c.MinTrackingConfidence),
	)
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}
