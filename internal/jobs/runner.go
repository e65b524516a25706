package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrUnknownJob indicates Enqueue was called with a name nobody registered.
	ErrUnknownJob = errors.New("jobs: unknown job")
	// ErrRunnerClosed indicates the runner no longer accepts work.
	ErrRunnerClosed = errors.New("jobs: runner closed")
	// ErrDuplicateJob indicates a second registration for the same name.
	ErrDuplicateJob = errors.New("jobs: job already registered")
)

// Handler executes one job. The payload is the value passed to Enqueue.
type Handler func(ctx context.Context, payload any) error

// Handle identifies an enqueued job.
type Handle struct {
	ID   string
	Name string
}

// ErrorReporter receives job failures in addition to the log.
type ErrorReporter interface {
	Report(ctx context.Context, handle Handle, err error)
}

// RunnerConfig describes the dependencies of a Runner.
type RunnerConfig struct {
	Logger     *zap.Logger
	Reporter   ErrorReporter
	IDProvider func() (string, error)
}

// Runner executes named jobs on their own goroutines.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	running  map[string]Handle
	closed   bool

	wg         sync.WaitGroup
	baseCtx    context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	reporter   ErrorReporter
	idProvider func() (string, error)
}

// NewRunner constructs a Runner ready to accept registrations.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = newUUIDv7
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Runner{
		handlers:   make(map[string]Handler),
		running:    make(map[string]Handle),
		baseCtx:    baseCtx,
		cancel:     cancel,
		logger:     logger,
		reporter:   cfg.Reporter,
		idProvider: idProvider,
	}
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Register binds a handler to a job name.
func (r *Runner) Register(name string, handler Handler) error {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		return fmt.Errorf("jobs: name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}
	r.handlers[name] = handler
	return nil
}

// Enqueue starts the named job and returns its handle without waiting for it.
// The job context derives from the runner, not from ctx, so it outlives the caller.
func (r *Runner) Enqueue(ctx context.Context, name string, payload any) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	id, err := r.idProvider()
	if err != nil {
		return Handle{}, fmt.Errorf("jobs: generate id: %w", err)
	}
	handle := Handle{ID: id, Name: name}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Handle{}, ErrRunnerClosed
	}
	handler, ok := r.handlers[name]
	if !ok {
		r.mu.Unlock()
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	r.running[handle.ID] = handle
	r.wg.Add(1)
	r.mu.Unlock()

	go r.execute(handle, handler, payload)
	return handle, nil
}

func (r *Runner) execute(handle Handle, handler Handler, payload any) {
	defer r.wg.Done()
	defer r.forget(handle.ID)

	logger := r.logger.With(zap.String("job_id", handle.ID), zap.String("job_name", handle.Name))
	logger.Info("job started")
	err := r.invoke(handler, payload)
	if err != nil {
		logger.Error("job failed", zap.Error(err))
		if r.reporter != nil {
			r.reporter.Report(r.baseCtx, handle, err)
		}
		return
	}
	logger.Info("job completed")
}

func (r *Runner) invoke(handler Handler, payload any) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("jobs: panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return handler(r.baseCtx, payload)
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.running, id)
	r.mu.Unlock()
}

// Running lists the jobs that have not finished yet.
func (r *Runner) Running() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]Handle, 0, len(r.running))
	for _, handle := range r.running {
		handles = append(handles, handle)
	}
	return handles
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends first the
// running jobs are cancelled and ctx's error is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
