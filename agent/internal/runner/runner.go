package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/flarewatch/flarewatch/agent/internal/analytics"
	"github.com/flarewatch/flarewatch/agent/internal/compute"
	"github.com/flarewatch/flarewatch/agent/internal/config"
	"github.com/flarewatch/flarewatch/agent/internal/export"
	"github.com/flarewatch/flarewatch/agent/internal/shipper"
	"github.com/flarewatch/flarewatch/pkg/types"
)

// ErrNoAccount is returned when neither account_id nor account_id_env yields
// an account tag.
var ErrNoAccount = errors.New("runner: no account id configured")

// Fetcher retrieves analytics groups for one window.
type Fetcher interface {
	Fetch(ctx context.Context, req analytics.Request) (*analytics.Response, error)
}

// Sender delivers an encoded payload.
type Sender interface {
	Send(ctx context.Context, p types.Payload) error
	Close() error
}

// Factory builds the transport side of a pipeline from config. datasets lists
// the upstream datasets the engine consumes.
type Factory func(cfg config.AgentConfig, datasets []string) (Fetcher, Sender, error)

// DefaultFactory builds the GraphQL analytics client and the OTLP shipper.
func DefaultFactory(cfg config.AgentConfig, datasets []string) (Fetcher, Sender, error) {
	client, err := analytics.New(cfg.API, datasets)
	if err != nil {
		return nil, nil, err
	}
	ship, err := shipper.New(cfg.Export)
	if err != nil {
		return nil, nil, err
	}
	return client, ship, nil
}

// Summary describes one completed run.
type Summary struct {
	Window    analytics.Window `json:"window"`
	Timestamp time.Time        `json:"timestamp"`
	Groups    int              `json:"groups"`
	Points    int              `json:"points"`
	Metrics   []string         `json:"metrics"`
	Bytes     int              `json:"payload_bytes"`
	Shipped   bool             `json:"shipped"`
	Duration  time.Duration    `json:"duration_ns"`
	StartedAt time.Time        `json:"started_at"`
}

// pipeline is the config-derived state of a run. It is replaced as a whole on
// reload.
type pipeline struct {
	cfg     config.AgentConfig
	fetcher Fetcher
	sender  Sender
	encoder *export.Encoder
}

// Runner executes runs and keeps the last result.
type Runner struct {
	engine  *compute.Engine
	factory Factory
	now     func() time.Time

	runMu sync.Mutex // serializes runs

	mu           sync.RWMutex
	pipe         *pipeline
	last         *Summary
	lastFamilies []*dto.MetricFamily

	intervalCh chan time.Duration
}

// Option customizes a Runner.
type Option func(*Runner)

// WithFactory replaces DefaultFactory.
func WithFactory(f Factory) Option { return func(r *Runner) { r.factory = f } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// WithEngine replaces the engine over every Cloudflare domain.
func WithEngine(e *compute.Engine) Option { return func(r *Runner) { r.engine = e } }

// New returns a Runner for cfg.
func New(cfg config.AgentConfig, opts ...Option) (*Runner, error) {
	r := &Runner{
		factory:    DefaultFactory,
		now:        time.Now,
		intervalCh: make(chan time.Duration, 1),
	}
	for _, o := range opts {
		o(r)
	}
	if r.engine == nil {
		r.engine = compute.NewEngine()
	}
	p, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.pipe = p
	return r, nil
}

func (r *Runner) build(cfg config.AgentConfig) (*pipeline, error) {
	fetcher, sender, err := r.factory(cfg, r.engine.Datasets())
	if err != nil {
		return nil, fmt.Errorf("runner: build pipeline: %w", err)
	}
	format := export.FormatProtobuf
	if cfg.Export.Protocol == config.ProtocolHTTPJSON {
		format = export.FormatJSON
	}
	scope := export.Scope{
		Name:      cfg.Export.Scope.Name,
		Version:   cfg.Export.Scope.Version,
		SchemaURL: cfg.Export.Scope.SchemaURL,
	}
	return &pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		sender:  sender,
		encoder: export.NewEncoder(format, scope, cfg.Export.Resource),
	}, nil
}

// Reload rebuilds the pipeline from cfg. On error the current pipeline stays
// active. The old sender is closed once any in-flight run has finished.
func (r *Runner) Reload(cfg config.AgentConfig) error {
	p, err := r.build(cfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	old := r.pipe
	r.pipe = p
	r.mu.Unlock()

	select {
	case r.intervalCh <- cfg.Query.Interval:
	default:
		// A pending interval update is superseded.
		select {
		case <-r.intervalCh:
		default:
		}
		r.intervalCh <- cfg.Query.Interval
	}

	go func() {
		r.runMu.Lock()
		defer r.runMu.Unlock()
		if err := old.sender.Close(); err != nil {
			slog.Warn("runner: close previous sender", "err", err)
		}
	}()
	slog.Info("runner: pipeline reloaded",
		"endpoint", cfg.Export.Endpoint,
		"protocol", cfg.Export.Protocol,
		"interval", cfg.Query.Interval,
	)
	return nil
}

// Close releases the current sender.
func (r *Runner) Close() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipe.sender.Close()
}

// Last returns the last successful run's summary and gathered families, or
// nil when no run has completed.
func (r *Runner) Last() (*Summary, []*dto.MetricFamily) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.lastFamilies
}

// Config returns the active agent config.
func (r *Runner) Config() config.AgentConfig { return r.current().cfg }

func (r *Runner) current() *pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipe
}

// WindowAt returns the window a run started at now covers:
// [t' - delay - window, t' - delay) with t' = now truncated to window.
func WindowAt(now time.Time, q config.QueryConfig) analytics.Window {
	end := now.UTC().Truncate(q.Window).Add(-q.Delay)
	return analytics.Window{Start: end.Add(-q.Window), End: end}
}

// RunOnce performs a single run. Payloads with no points are not sent.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	p := r.current()
	started := r.now()

	account := p.cfg.Account()
	if account == "" {
		return nil, ErrNoAccount
	}
	win := WindowAt(started, p.cfg.Query)

	resp, err := p.fetcher.Fetch(ctx, analytics.Request{
		AccountID: account,
		Window:    win,
		Limit:     p.cfg.Query.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("runner: fetch: %w", err)
	}

	res, err := r.engine.Process(resp, started)
	if err != nil {
		return nil, fmt.Errorf("runner: compute: %w", err)
	}

	points := export.Convert(res.Families, res.Timestamp)
	payload, err := p.encoder.Encode(points)
	if err != nil {
		return nil, fmt.Errorf("runner: %w", err)
	}

	sum := &Summary{
		Window:    win,
		Timestamp: res.Timestamp,
		Groups:    res.Groups,
		Points:    payload.Points,
		Metrics:   metricNames(res.Families),
		Bytes:     len(payload.Body),
		StartedAt: started,
	}
	if payload.Points > 0 {
		if err := p.sender.Send(ctx, payload); err != nil {
			return nil, fmt.Errorf("runner: ship: %w", err)
		}
		sum.Shipped = true
	}
	sum.Duration = r.now().Sub(started)

	r.mu.Lock()
	r.last = sum
	r.lastFamilies = res.Families
	r.mu.Unlock()

	slog.Info("runner: run complete",
		"window_start", win.Start,
		"window_end", win.End,
		"groups", sum.Groups,
		"points", sum.Points,
		"bytes", sum.Bytes,
		"shipped", sum.Shipped,
		"duration", sum.Duration,
	)
	return sum, nil
}

// Run performs a run every query interval until ctx is cancelled. Failed runs
// are logged and do not stop the loop. A reload that changes the interval
// resets the ticker.
func (r *Runner) Run(ctx context.Context) {
	interval := r.current().cfg.Query.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.intervalCh:
			if d > 0 && d != interval {
				interval = d
				ticker.Reset(interval)
				slog.Info("runner: interval changed", "interval", interval)
			}
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("runner: run failed", "err", err)
			}
		}
	}
}

func metricNames(families []*dto.MetricFamily) []string {
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	return names
}
