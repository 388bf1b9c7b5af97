// Package poller waits for an asynchronously rendered dish image by fetching
// it on a fixed interval until it appears or the attempt budget runs out.
package poller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrNotReady is returned by a Fetcher while the image has not been stored.
var ErrNotReady = errors.New("image not ready")

// ErrExhausted is the terminal error after MaxAttempts fetches without an image.
var ErrExhausted = errors.New("image unavailable")

// Fetcher retrieves an image by correlation ID.
type Fetcher interface {
	FetchImage(ctx context.Context, correlationID string) ([]byte, error)
}

type FetcherFunc func(ctx context.Context, correlationID string) ([]byte, error)

func (f FetcherFunc) FetchImage(ctx context.Context, correlationID string) ([]byte, error) {
	return f(ctx, correlationID)
}

type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// DefaultConfig polls for about two minutes.
var DefaultConfig = Config{
	InitialDelay: 4 * time.Second,
	Interval:     4 * time.Second,
	MaxAttempts:  30,
}

type State int

const (
	StatePending State = iota
	StateReady
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle owns one polling loop and whatever it fetched. Close it when the
// image is no longer displayed.
type Handle struct {
	id      string
	fetcher Fetcher
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	data     []byte
	err      error
	attempts int
	tmpFile  string
}

// Start begins polling for correlationID. The first fetch happens after
// cfg.InitialDelay. Zero fields in cfg take DefaultConfig values; a negative
// InitialDelay fetches immediately.
func Start(ctx context.Context, fetcher Fetcher, correlationID string, cfg Config) *Handle {
	switch {
	case cfg.InitialDelay == 0:
		cfg.InitialDelay = DefaultConfig.InitialDelay
	case cfg.InitialDelay < 0:
		cfg.InitialDelay = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}

	pctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:      correlationID,
		fetcher: fetcher,
		cfg:     cfg,
		ctx:     pctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Handle) run() {
	defer close(h.done)

	timer := time.NewTimer(h.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.finish(StateCancelled, nil, h.ctx.Err())
			return
		case <-timer.C:
		}

		data, err := h.fetcher.FetchImage(h.ctx, h.id)

		h.mu.Lock()
		h.attempts++
		attempts := h.attempts
		h.mu.Unlock()

		switch {
		case h.ctx.Err() != nil:
			h.finish(StateCancelled, nil, h.ctx.Err())
			return
		case err == nil && len(data) > 0:
			h.finish(StateReady, data, nil)
			return
		case attempts >= h.cfg.MaxAttempts:
			last := err
			if last == nil {
				last = ErrNotReady
			}
			h.finish(StateFailed, nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last))
			return
		}
		// Not ready and transient errors are both retried.
		timer.Reset(h.cfg.Interval)
	}
}

func (h *Handle) finish(state State, data []byte, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateCancelled {
		return
	}
	h.state, h.data, h.err = state, data, err
}

// Done is closed once polling has stopped for any reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until polling stops or ctx ends.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		return h.State(), h.Err()
	case <-ctx.Done():
		return StatePending, ctx.Err()
	}
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Bytes returns the fetched image, or nil unless the state is StateReady.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Materialize writes the fetched image to a temp file in dir and returns its
// path. The file belongs to the handle and is removed by Close.
func (h *Handle) Materialize(dir, pattern string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateReady {
		return "", fmt.Errorf("image is %s", h.state)
	}
	if h.tmpFile != "" {
		return h.tmpFile, nil
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(h.data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	h.tmpFile = f.Name()
	return h.tmpFile, nil
}

// Close stops polling, waits for the loop to exit, and releases fetched bytes
// and any materialized file. No fetch starts after Close returns.
func (h *Handle) Close() error {
	h.cancel()
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StatePending || h.state == StateReady {
		h.state = StateCancelled
	}
	h.data = nil
	var err error
	if h.tmpFile != "" {
		if rmErr := os.Remove(h.tmpFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = rmErr
		}
		h.tmpFile = ""
	}
	return err
}
