package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []reportedFailure
}

type reportedFailure struct {
	handle Handle
	err    error
}

func (r *recordingReporter) Report(_ context.Context, handle Handle, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, reportedFailure{handle: handle, err: err})
}

func (r *recordingReporter) snapshot() []reportedFailure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reportedFailure(nil), r.reports...)
}

func TestRunnerExecutesJobsAndWaitsOnShutdown(t *testing.T) {
	runner := NewRunner(RunnerConfig{})
	release := make(chan struct{})
	received := make(chan any, 1)
	if err := runner.Register("echo", func(ctx context.Context, payload any) error {
		<-release
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	handle, err := runner.Enqueue(context.Background(), "echo", "list-1")
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if handle.ID == "" || handle.Name != "echo" {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if running := runner.Running(); len(running) != 1 || running[0] != handle {
		t.Fatalf("expected the job to be running, got %+v", running)
	}

	close(release)
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if payload := <-received; payload != "list-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if running := runner.Running(); len(running) != 0 {
		t.Fatalf("expected no running jobs after shutdown, got %d", len(running))
	}

	_, err = runner.Enqueue(context.Background(), "echo", nil)
	if !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected closed runner error, got %v", err)
	}
}

func TestRunnerReportsFailuresAndPanics(t *testing.T) {
	reporter := &recordingReporter{}
	runner := NewRunner(RunnerConfig{Reporter: reporter})
	failure := errors.New("boom")
	if err := runner.Register("fail", func(context.Context, any) error { return failure }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := runner.Register("panic", func(context.Context, any) error { panic("unexpected") }); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	failed, err := runner.Enqueue(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	panicked, err := runner.Enqueue(context.Background(), "panic", nil)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := runner.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	reports := reporter.snapshot()
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	byID := map[string]error{}
	for _, report := range reports {
		byID[report.handle.ID] = report.err
	}
	if !errors.Is(byID[failed.ID], failure) {
		t.Fatalf("expected the handler error, got %v", byID[failed.ID])
	}
	if byID[panicked.ID] == nil || !strings.Contains(byID[panicked.ID].Error(), "panic: unexpected") {
		t.Fatalf("expected the panic to be reported, got %v", byID[panicked.ID])
	}
}

func TestRunnerRejectsUnknownAndDuplicateJobs(t *testing.T) {
	runner := NewRunner(RunnerConfig{IDProvider: func() (string, error) { return "job-1", nil }})
	handler := func(context.Context, any) error { return nil }
	if err := runner.Register("geocode_list", handler); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := runner.Register("geocode_list", handler); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := runner.Register(" ", handler); err == nil {
		t.Fatalf("expected blank names to be rejected")
	}
	if _, err := runner.Enqueue(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job error, got %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Enqueue(cancelled, "geocode_list", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled context to be refused, got %v", err)
	}
}

func TestRunnerShutdownCancelsJobsWhenDeadlinePasses(t *testing.T) {
	runner := NewRunner(RunnerConfig{})
	started := make(chan struct{})
	if err := runner.Register("wait", func(ctx context.Context, _ any) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := runner.Enqueue(context.Background(), "wait", nil); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := runner.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSentryReporterTagsJobIdentity(t *testing.T) {
	if _, err := NewSentryReporter(SentryConfig{}); err == nil {
		t.Fatalf("expected a missing dsn error")
	}

	events := make(chan *sentry.Event, 1)
	reporter, err := NewSentryReporter(SentryConfig{
		DSN:         "https://public@sentry.example.com/1",
		Environment: "test",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			events <- event
			return nil
		},
	})
	if err != nil {
		t.Fatalf("construct failed: %v", err)
	}

	reporter.Report(context.Background(), Handle{ID: "job-7", Name: "geocode_list"}, errors.New("nominatim unreachable"))

	select {
	case event := <-events:
		if event.Tags["job_name"] != "geocode_list" || event.Tags["job_id"] != "job-7" {
			t.Fatalf("unexpected tags %v", event.Tags)
		}
		if event.Environment != "test" {
			t.Fatalf("unexpected environment %q", event.Environment)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected the failure to reach sentry")
	}
}
