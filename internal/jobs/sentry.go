package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

var errMissingSentryDSN = errors.New("jobs: sentry dsn is required")

// SentryConfig carries the Sentry client settings.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string

	// BeforeSend lets callers inspect or drop events before delivery.
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// SentryReporter forwards job failures to Sentry.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter constructs a reporter bound to its own Sentry client.
func NewSentryReporter(cfg SentryConfig) (*SentryReporter, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errMissingSentryDSN
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, err
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report captures err tagged with the job identity.
func (r *SentryReporter) Report(_ context.Context, handle Handle, err error) {
	if r == nil || r.hub == nil || err == nil {
		return
	}
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("job_name", handle.Name)
		scope.SetTag("job_id", handle.ID)
	})
	hub.CaptureException(err)
}

// Flush waits for queued events to be delivered.
func (r *SentryReporter) Flush() bool {
	if r == nil || r.hub == nil {
		return true
	}
	return r.hub.Flush(sentryFlushTimeout)
}
