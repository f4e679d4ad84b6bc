// Package keepalive periodically probes the public URL of every deployment
// with ping enabled, so scale-to-zero instances stay awake.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wenwu/saas-platform/botfleet/internal/config"
	"github.com/wenwu/saas-platform/botfleet/internal/metrics"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

// ErrCycleInProgress is returned by RunCycle while another cycle is running.
var ErrCycleInProgress = errors.New("keep-alive cycle already running")

// Store is the slice of the deployment ledger the poller needs.
type Store interface {
	ListPingEligible(ctx context.Context) ([]*models.Deployment, error)
	TouchLastPing(ctx context.Context, id int64) error
}

// Result counts the probes of one cycle.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Poller runs keep-alive cycles on a fixed interval.
type Poller struct {
	store      Store
	httpClient *http.Client
	cfg        config.KeepAliveConfig
	metrics    *metrics.Metrics
	log        *zap.Logger

	cycling atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped poller.
func New(store Store, cfg config.KeepAliveConfig, m *metrics.Metrics, log *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 4 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		store: store,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			// a redirect already proves the instance is awake
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:     cfg,
		metrics: m,
		log:     log.Named("keepalive"),
	}
}

// Start runs one cycle immediately and then one per interval, until Stop.
// Calling Start on a running poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.runForever(ctx, done)

	p.log.Info("keep-alive poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Duration("timeout", p.cfg.Timeout),
	)
}

// Stop cancels the loop and waits for it to exit. It is safe to call at any
// time, including before Start; the poller may be started again afterwards.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.log.Info("keep-alive poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) runForever(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("keep-alive cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Targets lists the deployments a cycle would probe.
func (p *Poller) Targets(ctx context.Context) ([]*models.Deployment, error) {
	targets, err := p.store.ListPingEligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ping targets: %w", err)
	}
	return targets, nil
}

// RunCycle probes every ping-eligible deployment once. Probe failures are
// counted, never retried, and leave the deployment untouched.
func (p *Poller) RunCycle(ctx context.Context) (Result, error) {
	if !p.cycling.CompareAndSwap(false, true) {
		return Result{}, ErrCycleInProgress
	}
	defer p.cycling.Store(false)

	start := time.Now()
	targets, err := p.Targets(ctx)
	if err != nil {
		return Result{}, err
	}

	var success, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, d := range targets {
		if d.PublicURL == nil || *d.PublicURL == "" {
			continue
		}
		d := d
		g.Go(func() error {
			if !p.probe(ctx, *d.PublicURL) {
				failed.Add(1)
				return nil
			}
			success.Add(1)
			if err := p.store.TouchLastPing(ctx, d.ID); err != nil {
				p.log.Warn("record ping failed", zap.Int64("deployment_id", d.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Success: int(success.Load()), Failed: int(failed.Load())}
	p.metrics.ObserveCycle(res.Success, res.Failed, time.Since(start))
	if res.Success+res.Failed > 0 {
		p.log.Info("keep-alive cycle",
			zap.Int("success", res.Success),
			zap.Int("failed", res.Failed),
			zap.Duration("took", time.Since(start)),
		)
	}
	return res, nil
}

func (p *Poller) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.log.Debug("bad ping url", zap.String("url", url), zap.Error(err))
		return false
	}
	req.Header.Set("User-Agent", "botfleet-keepalive/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.Debug("ping failed", zap.String("url", url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
