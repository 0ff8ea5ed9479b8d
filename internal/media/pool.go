package media

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
)

// Pool spreads new routers over a fixed set of workers, round robin.
type Pool struct {
	workers     []Worker
	mediaCodecs json.RawMessage
	next        uint64
}

func NewPool(workers []Worker, mediaCodecs json.RawMessage) *Pool {
	if mediaCodecs == nil {
		mediaCodecs = DefaultMediaCodecs
	}
	return &Pool{workers: workers, mediaCodecs: mediaCodecs}
}

// Ready reports whether at least one worker is available.
func (p *Pool) Ready() bool {
	return p != nil && len(p.workers) > 0
}

func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.workers)
}

// CreateRouter creates a router on the next worker in turn.
func (p *Pool) CreateRouter(ctx context.Context) (Router, error) {
	if !p.Ready() {
		return nil, ErrUnavailable
	}
	idx := (atomic.AddUint64(&p.next, 1) - 1) % uint64(len(p.workers))
	return p.workers[idx].CreateRouter(ctx, p.mediaCodecs)
}

// Close closes every worker and returns the joined errors.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, w := range p.workers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
