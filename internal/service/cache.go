package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dexstats/internal/entity"
	"dexstats/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Computer is one chain's stats computation, implemented by StatsComputer
// and faked in tests.
type Computer interface {
	Compute(ctx context.Context) (*entity.StatsResponse, error)
}

// statsFlight is one in-progress computation shared by every caller that
// arrives while it runs.
type statsFlight struct {
	done chan struct{}
	resp *entity.StatsResponse
	err  error
}

// chainEntry is the keyed cache state for one chain: the last assembled
// response with its timestamp, and the in-flight handle when a computation
// is running. Explicit fields, no parallel maps.
type chainEntry struct {
	resp       *entity.StatsResponse
	computedAt time.Time
	inflight   *statsFlight
}

// Orchestrator gates all stats computations behind a per-chain time-boxed
// cache with request coalescing. Constructed once at startup and injected;
// it owns no global state.
type Orchestrator struct {
	mu        sync.Mutex
	entries   map[int64]*chainEntry
	computers map[int64]Computer

	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	refreshWG   sync.WaitGroup
	refreshStop chan struct{}
	stopOnce    sync.Once
}

// NewOrchestrator builds the orchestrator over one computer per chain.
// now may be nil outside of tests.
func NewOrchestrator(computers map[int64]Computer, ttl time.Duration, logger *zap.Logger, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		entries:     make(map[int64]*chainEntry),
		computers:   computers,
		ttl:         ttl,
		logger:      logger.Named("Orchestrator"),
		now:         now,
		refreshStop: make(chan struct{}),
	}
}

// GetStats returns the chain's stats, serving a fresh cache entry without
// I/O, joining an in-flight computation when one exists, and otherwise
// starting a new computation whose result every concurrent caller shares.
func (o *Orchestrator) GetStats(ctx context.Context, chainID int64) (*entity.StatsResponse, error) {
	return o.get(ctx, chainID, false)
}

// Refresh recomputes the chain's stats regardless of freshness, still
// coalescing with any computation already in flight.
func (o *Orchestrator) Refresh(ctx context.Context, chainID int64) (*entity.StatsResponse, error) {
	return o.get(ctx, chainID, true)
}

func (o *Orchestrator) get(ctx context.Context, chainID int64, force bool) (*entity.StatsResponse, error) {
	computer, ok := o.computers[chainID]
	if !ok {
		return nil, fmt.Errorf("unsupported chain %d", chainID)
	}

	o.mu.Lock()
	entry := o.entries[chainID]
	if entry == nil {
		entry = &chainEntry{}
		o.entries[chainID] = entry
	}
	if !force && entry.resp != nil && o.now().Sub(entry.computedAt) < o.ttl {
		resp := entry.resp
		o.mu.Unlock()
		return resp, nil
	}
	if flight := entry.inflight; flight != nil {
		o.mu.Unlock()
		select {
		case <-flight.done:
			return flight.resp, flight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	flight := &statsFlight{done: make(chan struct{})}
	entry.inflight = flight
	o.mu.Unlock()

	started := o.now()
	resp, err := computer.Compute(ctx)

	o.mu.Lock()
	// The in-flight handle is cleared even on failure so the chain stays
	// retryable on the next call.
	entry.inflight = nil
	if err == nil {
		entry.resp = resp
		entry.computedAt = o.now()
	}
	o.mu.Unlock()

	flight.resp = resp
	flight.err = err
	close(flight.done)

	if err != nil {
		o.logger.Error("Stats computation failed",
			zap.Int64("chainID", chainID), zap.Error(err))
		return nil, err
	}
	label := fmt.Sprintf("%d", chainID)
	metrics.StatsComputations.WithLabelValues(label).Inc()
	metrics.StatsComputeDuration.WithLabelValues(label).Observe(o.now().Sub(started).Seconds())
	return resp, nil
}

// StartRefresher proactively recomputes stats for the given chains on a
// period slightly below the TTL so external callers always hit a fresh
// entry. Stop cancels it.
func (o *Orchestrator) StartRefresher(chains []int64, margin time.Duration) {
	interval := o.ttl - margin
	if interval <= 0 {
		interval = o.ttl
	}
	for _, chainID := range chains {
		if _, ok := o.computers[chainID]; !ok {
			o.logger.Warn("Refresher skipping unsupported chain", zap.Int64("chainID", chainID))
			continue
		}
		o.refreshWG.Add(1)
		go o.refreshLoop(chainID, interval)
	}
}

func (o *Orchestrator) refreshLoop(chainID int64, interval time.Duration) {
	defer o.refreshWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.refreshStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := o.Refresh(ctx, chainID); err != nil {
				o.logger.Warn("Background refresh failed",
					zap.Int64("chainID", chainID), zap.Error(err))
			}
			cancel()
		}
	}
}

// Stop cancels all background refresh loops and waits for them to exit so
// no pending timer keeps the process alive.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.refreshStop) })
	o.refreshWG.Wait()
}
