// Package refresh keeps the ticket store in step with the email backend: a
// bounded-retry bootstrap at startup, then one refresh cycle per scheduled tick.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ticketdesk/internal/domain"
	"ticketdesk/internal/retry"
	"ticketdesk/internal/store"
)

const (
	DefaultSchedule          = "@every 5m"
	DefaultBootstrapAttempts = 3
	DefaultBootstrapDelay    = 2 * time.Second
)

var (
	ErrServiceUnavailable = errors.New("email service is not available")
	ErrBootstrapExhausted = errors.New("could not connect after several attempts")
)

// Gateway is the subset of the email backend a refresh cycle needs.
type Gateway interface {
	CheckConnection(ctx context.Context) bool
	FetchEmails(ctx context.Context) ([]domain.Ticket, error)
}

// Recorder receives activity entries; journal.Writer implements it.
type Recorder interface {
	Record(ctx context.Context, kind string, ticketID int, payload map[string]any) error
}

type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindGateway            ErrorKind = "gateway"
	KindBootstrapExhausted ErrorKind = "bootstrap_exhausted"
	KindSend               ErrorKind = "send"
)

// Status is what the top-of-page banner and loading indicator render.
type Status struct {
	Loading     bool      `json:"loading"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	Tickets     int       `json:"ticket_count"`
}

type Config struct {
	Gateway  Gateway
	Store    *store.Store
	Schedule string
	// Bootstrap is the startup retry policy. MaxAttempts and Delay default to 3 and 2s.
	Bootstrap retry.Policy
	Journal   Recorder
	Logger    *slog.Logger
	Now       func() time.Time
}

type Orchestrator struct {
	gateway  Gateway
	store    *store.Store
	schedule string
	policy   retry.Policy
	journal  Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight int
	status   Status
	cron     *cron.Cron
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		gateway:  cfg.Gateway,
		store:    cfg.Store,
		schedule: cfg.Schedule,
		policy:   cfg.Bootstrap,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if o.schedule == "" {
		o.schedule = DefaultSchedule
	}
	if o.policy.MaxAttempts == 0 {
		o.policy.MaxAttempts = DefaultBootstrapAttempts
	}
	if o.policy.Delay == 0 {
		o.policy.Delay = DefaultBootstrapDelay
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Refresh runs one cycle: probe, fetch, replace the store, clear the banner.
// On failure the store keeps its previous contents and the banner shows the error.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.begin()
	defer o.end()

	if !o.gateway.CheckConnection(ctx) {
		o.fail(KindServiceUnavailable, ErrServiceUnavailable)
		o.record(ctx, "refresh.failed", map[string]any{"error": ErrServiceUnavailable.Error()})
		return ErrServiceUnavailable
	}
	tickets, err := o.gateway.FetchEmails(ctx)
	if err != nil {
		o.fail(KindGateway, err)
		o.record(ctx, "refresh.failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("fetch tickets: %w", err)
	}
	o.store.Replace(tickets)

	o.mu.Lock()
	o.status.Error = ""
	o.status.ErrorKind = KindNone
	o.status.LastRefresh = o.now()
	o.mu.Unlock()

	o.logger.Info("tickets refreshed", "count", len(tickets))
	o.record(ctx, "refresh.succeeded", map[string]any{"tickets": len(tickets)})
	return nil
}

// Bootstrap retries Refresh under the startup policy and, once every attempt
// has failed, leaves ErrBootstrapExhausted on the banner.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	policy := o.policy
	policy.OnRetry = func(attempt int, err error) {
		o.logger.Warn("initial load failed, retrying", "attempt", attempt, "delay", policy.Delay, "error", err)
	}
	policy.OnExhausted = func(err *retry.ExhaustedError) {
		o.fail(KindBootstrapExhausted, ErrBootstrapExhausted)
		o.logger.Error("initial load gave up", "attempts", err.Attempts, "error", err.Last)
	}
	if err := policy.Do(ctx, o.Refresh); err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("%w: %w", ErrBootstrapExhausted, err)
		}
		return err
	}
	return nil
}

// Start schedules periodic refreshes. The jobs run with ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cron != nil {
		return errors.New("refresh scheduler already started")
	}
	c := cron.New()
	if _, err := c.AddFunc(o.schedule, func() {
		if err := o.Refresh(ctx); err != nil {
			o.logger.Warn("scheduled refresh failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh: invalid schedule %q: %w", o.schedule, err)
	}
	c.Start()
	o.cron = c
	o.logger.Info("refresh scheduler started", "schedule", o.schedule)
	return nil
}

// Stop tears the scheduler down and waits for a running job to return.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	o.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	o.logger.Info("refresh scheduler stopped")
}

// Run starts the scheduler, performs the bootstrap load and blocks until ctx
// is cancelled. A failed bootstrap does not stop the scheduler.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	defer o.Stop()
	if err := o.Bootstrap(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("bootstrap failed", "error", err)
	}
	<-ctx.Done()
	return nil
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	s.Loading = o.inflight > 0
	s.Tickets = o.store.Len()
	return s
}

// ReportError puts an error raised outside the refresh cycle on the banner.
func (o *Orchestrator) ReportError(kind ErrorKind, err error) {
	if err == nil {
		return
	}
	o.fail(kind, err)
}

func (o *Orchestrator) DismissError() {
	o.mu.Lock()
	o.status.Error = ""
	o.status.ErrorKind = KindNone
	o.mu.Unlock()
}

func (o *Orchestrator) begin() {
	o.mu.Lock()
	o.inflight++
	o.mu.Unlock()
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.inflight--
	o.mu.Unlock()
}

func (o *Orchestrator) fail(kind ErrorKind, err error) {
	o.mu.Lock()
	o.status.Error = err.Error()
	o.status.ErrorKind = kind
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, kind string, payload map[string]any) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(ctx, kind, 0, payload); err != nil {
		o.logger.Warn("journal write failed", "kind", kind, "error", err)
	}
}
