package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"backend-pushupcounter/internal/pose"
)

// Pool hands out bridges to concurrent callers. It is scoped to a single
// session: Open acquires the workers and Close releases all of them.
type Pool struct {
	bridges chan *Bridge
	all     []*Bridge

	closeOnce sync.Once
	closeErr  error
}

// Open starts cfg.Workers worker processes. If any fails to start, the ones
// already running are closed before returning.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bridges := make([]*Bridge, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		b, err := StartBridge(ctx, fmt.Sprintf("pose-%d", i), cfg)
		if err != nil {
			for _, started := range bridges {
				_ = started.Close()
			}
			return nil, fmt.Errorf("start pose worker %d: %w", i, err)
		}
		bridges = append(bridges, b)
	}
	return NewPool(bridges...), nil
}

func NewPool(bridges ...*Bridge) *Pool {
	p := &Pool{
		bridges: make(chan *Bridge, len(bridges)),
		all:     bridges,
	}
	for _, b := range bridges {
		p.bridges <- b
	}
	return p
}

func (p *Pool) Size() int {
	return len(p.all)
}

// Detect borrows a free bridge, blocking until one is available.
func (p *Pool) Detect(ctx context.Context, img Image) (*pose.LandmarkFrame, error) {
	if len(p.all) == 0 {
		return nil, ErrClosed
	}

	var b *Bridge
	select {
	case b = <-p.bridges:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.bridges <- b }()

	return b.Detect(ctx, img)
}

func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for _, b := range p.all {
			if err := b.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
		slog.Debug("pose worker pool closed", "workers", len(p.all))
	})
	return p.closeErr
}
