// Package clock drives time-based lifecycle transitions: simulated
// transit in demo mode, inspection window auto-release, and stuck-pending
// alerting.
//
// All deadlines are persisted on the transaction rows, so a scan after a
// restart picks up anything that expired while the process was down.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/metrics"
)

const scanBatchSize = 100

// Scanner periodically sweeps the store and applies due transitions
// through the engine.
type Scanner struct {
	engine   *escrow.Engine
	store    escrow.Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool

	// Demo-mode transit simulation: shipped transactions are marked
	// delivered after transitDelay. Disabled in production, where a
	// carrier webhook confirms delivery instead.
	transitDelay   time.Duration
	transitEnabled bool

	// Pending transactions older than stuckAfter indicate a lost capture
	// outcome and are surfaced for operator attention.
	stuckAfter time.Duration
}

// Config carries the scanner's tunables.
type Config struct {
	Interval       time.Duration
	TransitDelay   time.Duration
	TransitEnabled bool
	StuckAfter     time.Duration
}

// NewScanner creates a lifecycle scanner.
func NewScanner(engine *escrow.Engine, store escrow.Store, cfg Config, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scanner{
		engine:         engine,
		store:          store,
		interval:       cfg.Interval,
		transitDelay:   cfg.TransitDelay,
		transitEnabled: cfg.TransitEnabled,
		stuckAfter:     cfg.StuckAfter,
		logger:         logger,
		stop:           make(chan struct{}),
	}
}

// Running reports whether the scan loop is actively running.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Start begins the scan loop. Call in a goroutine.
func (s *Scanner) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeScan(ctx)
		}
	}
}

// Stop signals the scanner to stop.
func (s *Scanner) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Scanner) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in lifecycle scanner", "panic", fmt.Sprint(r))
		}
	}()
	s.Scan(ctx)
}

// Scan runs one sweep. Exported for tests and the admin trigger endpoint.
func (s *Scanner) Scan(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.ScanCycleDuration.Observe(time.Since(start).Seconds())
	}()

	now := time.Now()
	if s.transitEnabled {
		s.simulateTransit(ctx, now)
	}
	s.releaseExpired(ctx, now)
	s.flagStuckPending(ctx, now)
}

func (s *Scanner) simulateTransit(ctx context.Context, now time.Time) {
	due, err := s.store.ListShippedBefore(ctx, now.Add(-s.transitDelay), scanBatchSize)
	if err != nil {
		s.logger.Warn("failed to list shipped transactions", "error", err)
		return
	}
	for _, t := range due {
		if _, err := s.engine.ConfirmDelivery(ctx, t.ID); err != nil {
			s.logger.Warn("failed to simulate delivery",
				"transaction_id", t.ID, "error", err)
			continue
		}
		s.logger.Info("simulated delivery",
			"transaction_id", t.ID, "tracking", t.TrackingNumber)
	}
}

func (s *Scanner) releaseExpired(ctx context.Context, now time.Time) {
	expired, err := s.store.ListInspectionExpired(ctx, now, scanBatchSize)
	if err != nil {
		s.logger.Warn("failed to list expired inspections", "error", err)
		return
	}
	for _, t := range expired {
		released, err := s.engine.AutoRelease(ctx, t.ID)
		if err != nil {
			s.logger.Warn("failed to auto-release transaction",
				"transaction_id", t.ID, "error", err)
			continue
		}
		// A race with acceptance or a dispute leaves the row untouched.
		if released.Status == escrow.StatusCompleted && released.CompletedAt != nil && !released.CompletedAt.Before(now) {
			s.logger.Info("auto-released after inspection window",
				"transaction_id", t.ID,
				"seller_id", t.SellerID,
				"amount", t.Amount.String())
		}
	}
}

func (s *Scanner) flagStuckPending(ctx context.Context, now time.Time) {
	if s.stuckAfter <= 0 {
		return
	}
	stuck, err := s.store.ListPendingBefore(ctx, now.Add(-s.stuckAfter), scanBatchSize)
	if err != nil {
		s.logger.Warn("failed to list pending transactions", "error", err)
		return
	}
	metrics.StuckPendingTransactions.Set(float64(len(stuck)))
	for _, t := range stuck {
		s.logger.Warn("transaction pending past capture threshold",
			"transaction_id", t.ID,
			"buyer_id", t.BuyerID,
			"age", now.Sub(t.CreatedAt).String())
	}
}
