package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/metrics"
	"github.com/pscheid92/fanout/internal/platform/correlation"
)

const (
	defaultConcurrency     = 64
	defaultDeliveryTimeout = 5 * time.Second
	evictionTimeout        = 2 * time.Second
	maxLoggedFailures      = 10
)

// ErrDirectoryUnavailable is returned when the candidate scan fails. No
// delivery is attempted in that case.
var ErrDirectoryUnavailable = fmt.Errorf("connection directory unavailable: %w", domain.ErrStoreUnavailable)

// Request is one broadcast. An empty Tenant targets every connection.
type Request struct {
	Payload []byte
	Tenant  string
}

// Result counts what happened to the candidates of one broadcast.
// Candidates = Delivered + Pruned + EvictionFailures + Failed.
type Result struct {
	Candidates       int `json:"candidates"`
	Delivered        int `json:"delivered"`
	Pruned           int `json:"pruned"`
	EvictionFailures int `json:"evictionFailures"`
	Failed           int `json:"failed"`
}

// Config tunes a Broadcaster. Zero values fall back to defaults.
type Config struct {
	// Transport labels metrics and logs, e.g. "websocket" or "gateway".
	Transport       string
	Concurrency     int
	DeliveryTimeout time.Duration
}

// Broadcaster delivers payloads through one Sender to the connections of one store.
type Broadcaster struct {
	store           domain.ConnectionStore
	sender          domain.Sender
	clock           clockwork.Clock
	transport       string
	concurrency     int
	deliveryTimeout time.Duration
}

func NewBroadcaster(store domain.ConnectionStore, sender domain.Sender, clock clockwork.Clock, cfg Config) *Broadcaster {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	if cfg.Transport == "" {
		cfg.Transport = "default"
	}
	return &Broadcaster{
		store:           store,
		sender:          sender,
		clock:           clock,
		transport:       cfg.Transport,
		concurrency:     cfg.Concurrency,
		deliveryTimeout: cfg.DeliveryTimeout,
	}
}

// Transport returns the label this broadcaster was configured with.
func (b *Broadcaster) Transport() string {
	return b.transport
}

// tally collects per-delivery outcomes from concurrent goroutines.
type tally struct {
	mu       sync.Mutex
	result   Result
	failures []error
}

func (t *tally) add(fn func(r *Result)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.result)
}

func (t *tally) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result.Failed++
	if len(t.failures) < maxLoggedFailures {
		t.failures = append(t.failures, err)
	}
}

// Broadcast sends req.Payload to every connection found by a single scan.
// Records of gone peers are removed on a best-effort basis. If any delivery
// fails for another reason the returned error wraps domain.ErrDeliveryFailed;
// the Result is filled in either way.
func (b *Broadcaster) Broadcast(ctx context.Context, req Request) (Result, error) {
	start := b.clock.Now()
	defer func() {
		metrics.BroadcastDuration.Observe(b.clock.Since(start).Seconds())
	}()

	candidates, err := b.scan(ctx, req.Tenant)
	if err != nil {
		metrics.BroadcastsTotal.WithLabelValues("scan_failed").Inc()
		slog.ErrorContext(ctx, "Broadcast scan failed", "tenant", req.Tenant, "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}

	t := &tally{result: Result{Candidates: len(candidates)}}

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, record := range candidates {
		g.Go(func() error {
			b.deliver(ctx, record, req.Payload, t)
			return nil
		})
	}
	_ = g.Wait()

	result := t.result
	if result.Failed > 0 {
		metrics.BroadcastsTotal.WithLabelValues("partial_failure").Inc()
		slog.WarnContext(ctx, "Broadcast finished with failed deliveries",
			"transport", b.transport,
			"candidates", result.Candidates,
			"delivered", result.Delivered,
			"pruned", result.Pruned,
			"failed", result.Failed,
			"errors", errors.Join(t.failures...))
		return result, fmt.Errorf("%d of %d deliveries failed: %w", result.Failed, result.Candidates, domain.ErrDeliveryFailed)
	}

	metrics.BroadcastsTotal.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "Broadcast delivered",
		"transport", b.transport,
		"candidates", result.Candidates,
		"delivered", result.Delivered,
		"pruned", result.Pruned)
	return result, nil
}

func (b *Broadcaster) scan(ctx context.Context, tenant string) ([]domain.ConnectionRecord, error) {
	if tenant == "" {
		return b.store.ScanAll(ctx)
	}
	return b.store.ScanTenant(ctx, tenant)
}

func (b *Broadcaster) deliver(ctx context.Context, record domain.ConnectionRecord, payload []byte, t *tally) {
	deliverCtx, cancel := clockwork.WithTimeout(ctx, b.clock, b.deliveryTimeout)
	defer cancel()

	start := b.clock.Now()
	err := b.sender.Deliver(deliverCtx, record.ConnectionID, payload)
	metrics.DeliveryDuration.WithLabelValues(b.transport).Observe(b.clock.Since(start).Seconds())

	if err == nil {
		metrics.DeliveriesTotal.WithLabelValues(b.transport, "delivered").Inc()
		t.add(func(r *Result) { r.Delivered++ })
		return
	}

	if domain.KindOf(err) == domain.KindGone {
		metrics.DeliveriesTotal.WithLabelValues(b.transport, "gone").Inc()
		if b.evict(ctx, record) {
			t.add(func(r *Result) { r.Pruned++ })
		} else {
			t.add(func(r *Result) { r.EvictionFailures++ })
		}
		return
	}

	metrics.DeliveriesTotal.WithLabelValues(b.transport, "failed").Inc()
	t.fail(err)
}

// evict removes a stale record. The request context may already be cancelled
// by the time a slow sender reports the peer gone, so the delete runs on a
// detached context with its own timeout.
func (b *Broadcaster) evict(ctx context.Context, record domain.ConnectionRecord) bool {
	evictCtx, cancel := context.WithTimeout(correlation.Detach(ctx), evictionTimeout)
	defer cancel()

	if err := b.store.Delete(evictCtx, record.Key()); err != nil {
		metrics.EvictionsTotal.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "Failed to evict stale connection",
			"connection_id", record.ConnectionID,
			"tenant", record.TenantKey,
			"error", err)
		return false
	}

	metrics.EvictionsTotal.WithLabelValues("ok").Inc()
	slog.DebugContext(ctx, "Evicted stale connection", "connection_id", record.ConnectionID, "tenant", record.TenantKey)
	return true
}
