package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Brownie44l1/poar-detector/internal/detector"
	"go.uber.org/zap"
)

// Pool hands out detector handlers one request at a time. Each handler owns
// its own model session, so N handlers serve N requests concurrently.
type Pool struct {
	handlers []*detector.Handler
	free     chan *detector.Handler
	done     chan struct{}
	closed   atomic.Bool
	logger   *zap.Logger
}

// NewPool wraps the given handlers. They may be uninitialized; handlers
// initialize lazily on first use.
func NewPool(handlers []*detector.Handler, logger *zap.Logger) (*Pool, error) {
	if len(handlers) == 0 {
		return nil, ErrEmptyPool
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	free := make(chan *detector.Handler, len(handlers))
	for _, h := range handlers {
		free <- h
	}

	return &Pool{
		handlers: handlers,
		free:     free,
		done:     make(chan struct{}),
		logger:   logger,
	}, nil
}

// Size returns the number of handlers.
func (p *Pool) Size() int {
	return len(p.handlers)
}

// Available returns the number of idle handlers.
func (p *Pool) Available() int {
	return len(p.free)
}

// InitializeAll initializes every handler up front so a broken model is
// reported at startup instead of on the first request.
func (p *Pool) InitializeAll(env *detector.Environment) error {
	for i, h := range p.handlers {
		if err := h.Initialize(env); err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
		p.logger.Debug("Worker ready", zap.Int("worker", i), zap.Stringer("device", h.Device()))
	}
	return nil
}

// Ready reports whether every handler is initialized.
func (p *Pool) Ready() bool {
	for _, h := range p.handlers {
		if !h.Ready() {
			return false
		}
	}
	return true
}

// Acquire blocks until a handler is free, the context ends or the pool closes.
func (p *Pool) Acquire(ctx context.Context) (*detector.Handler, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case h := <-p.free:
		return h, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a handler obtained from Acquire.
func (p *Pool) Release(h *detector.Handler) {
	p.free <- h
}

// Do runs fn with an exclusively held handler.
func (p *Pool) Do(ctx context.Context, fn func(h *detector.Handler) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)

	return fn(h)
}

// Close stops handing out handlers, waits for in-flight requests to return
// theirs and releases every model. Only the first call does any work.
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)

	var errs []error
	for i := 0; i < len(p.handlers); i++ {
		select {
		case h := <-p.free:
			errs = append(errs, h.Close())
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("%d workers still busy: %w", len(p.handlers)-i, ctx.Err()))
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}
