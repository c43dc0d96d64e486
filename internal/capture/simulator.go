// Package capture provides the payment gateway used in demo and
// development mode: an asynchronous simulator that reports capture
// outcomes back to the engine after a configurable delay.
//
// Production deployments replace this with a real provider integration
// whose webhook lands on the engine's capture-result endpoint.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/retry"
)

// Completer receives capture outcomes. Implemented by the transaction
// engine.
type Completer interface {
	CompleteCapture(ctx context.Context, id string, success bool, reason string) (*escrow.Transaction, error)
}

// Simulator is an escrow.CaptureGateway that resolves captures on a timer
// instead of a provider round-trip. Outcomes are deterministic: amounts at
// or above the decline threshold are declined, everything else is
// captured.
type Simulator struct {
	completer    Completer
	delay        time.Duration
	declineAbove money.Amount // 0 disables declines
	logger       *slog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewSimulator creates a capture simulator.
func NewSimulator(completer Completer, delay time.Duration, declineAbove money.Amount, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		completer:    completer,
		delay:        delay,
		declineAbove: declineAbove,
		logger:       logger,
	}
}

// Capture enqueues a simulated capture attempt. Returns immediately; the
// outcome lands on the completer after the configured delay.
func (s *Simulator) Capture(ctx context.Context, req escrow.CaptureRequest) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return context.Canceled
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if s.delay > 0 {
			time.Sleep(s.delay)
		}

		success := s.declineAbove == 0 || req.Amount < s.declineAbove
		reason := ""
		if !success {
			reason = "card declined by issuer"
		}

		// The request context ends with the HTTP call that initiated the
		// purchase; the outcome write gets its own. A dropped outcome
		// leaves a stuck pending row, so transient store failures are
		// retried; engine verdicts are final.
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := retry.Do(cctx, 3, 500*time.Millisecond, func() error {
			_, err := s.completer.CompleteCapture(cctx, req.TransactionID, success, reason)
			if errors.Is(err, escrow.ErrConflict) || errors.Is(err, escrow.ErrTransactionNotFound) ||
				errors.Is(err, escrow.ErrIllegalTransition) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			s.logger.Error("capture outcome not recorded",
				"transaction_id", req.TransactionID,
				"success", success,
				"error", err)
			return
		}
		s.logger.Info("capture simulated",
			"transaction_id", req.TransactionID,
			"success", success,
			"amount", req.Amount.String())
	}()
	return nil
}

// Close stops accepting captures and waits for in-flight outcomes.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

// Compile-time assertion that Simulator implements the gateway.
var _ escrow.CaptureGateway = (*Simulator)(nil)
