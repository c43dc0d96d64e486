package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/escrowd/internal/dispute"
	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/metrics"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total event emit attempts by event type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "escrowd",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total event emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors)
}

// Emitter translates engine callbacks into dispatched events and domain
// metrics. All methods are fire-and-forget: errors are logged but never
// returned.
type Emitter struct {
	d      Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new event emitter.
func NewEmitter(d Dispatcher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{d: d, logger: logger}
}

func (e *Emitter) emit(userID string, eventType EventType, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}
	emitTotal.WithLabelValues(string(eventType)).Inc()
	event := &Event{
		ID:        idgen.WithPrefix(idgen.EventPrefix),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, userID, event); err != nil {
		emitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("event emit failed", "event", eventType, "user", userID, "error", err)
	}
}

// emitBoth sends the same event to buyer and seller.
func (e *Emitter) emitBoth(t *escrow.Transaction, eventType EventType, data map[string]any) {
	e.emit(t.BuyerID, eventType, data)
	e.emit(t.SellerID, eventType, data)
}

func transactionData(t *escrow.Transaction) map[string]any {
	return map[string]any{
		"transactionId": t.ID,
		"listingId":     t.ListingID,
		"amount":        t.Amount.String(),
		"status":        string(t.Status),
	}
}

// --- escrow.Notifier ---

func (e *Emitter) PaymentSecured(ctx context.Context, t *escrow.Transaction) {
	metrics.CapturesTotal.WithLabelValues("captured").Inc()
	e.emitBoth(t, EventPaymentSecured, transactionData(t))
}

func (e *Emitter) PaymentFailed(ctx context.Context, t *escrow.Transaction, reason string) {
	metrics.CapturesTotal.WithLabelValues("declined").Inc()
	metrics.TransactionsCancelledTotal.Inc()
	data := transactionData(t)
	data["reason"] = reason
	e.emit(t.BuyerID, EventPaymentFailed, data)
}

func (e *Emitter) ItemShipped(ctx context.Context, t *escrow.Transaction) {
	data := transactionData(t)
	data["trackingNumber"] = t.TrackingNumber
	e.emit(t.BuyerID, EventItemShipped, data)
}

func (e *Emitter) ItemDelivered(ctx context.Context, t *escrow.Transaction) {
	data := transactionData(t)
	if t.InspectionEndsAt != nil {
		data["inspectionEndsAt"] = t.InspectionEndsAt.Format(time.RFC3339)
	}
	e.emitBoth(t, EventItemDelivered, data)
}

func (e *Emitter) DisputeOpened(ctx context.Context, t *escrow.Transaction, disputeID, reason string) {
	metrics.DisputesOpenedTotal.Inc()
	data := transactionData(t)
	data["disputeId"] = disputeID
	data["reason"] = reason
	e.emitBoth(t, EventDisputeOpened, data)
}

func (e *Emitter) TransactionCompleted(ctx context.Context, t *escrow.Transaction, manner string) {
	metrics.TransactionsCompletedTotal.WithLabelValues(manner).Inc()
	if manner == escrow.CompletedManual && t.InspectionEndsAt != nil && t.CompletedAt != nil {
		if remaining := t.InspectionEndsAt.Sub(*t.CompletedAt); remaining > 0 {
			metrics.InspectionWindowRemaining.Observe(remaining.Seconds())
		}
	}
	data := transactionData(t)
	data["manner"] = manner
	e.emitBoth(t, EventTransactionCompleted, data)
}

func (e *Emitter) TransactionCancelled(ctx context.Context, t *escrow.Transaction, reason string) {
	metrics.TransactionsCancelledTotal.Inc()
	data := transactionData(t)
	data["reason"] = reason
	if t.RefundedAmount != nil {
		data["refundedAmount"] = t.RefundedAmount.String()
	}
	e.emitBoth(t, EventTransactionCancelled, data)
}

func (e *Emitter) AdminActionReversed(ctx context.Context, t *escrow.Transaction, actionID string) {
	data := transactionData(t)
	data["actionId"] = actionID
	e.emitBoth(t, EventAdminReversed, data)
}

// --- dispute.Notifier ---

func (e *Emitter) DisputeMessage(ctx context.Context, d *dispute.Dispute, m *dispute.Message) {
	data := map[string]any{
		"disputeId":     d.ID,
		"transactionId": d.TransactionID,
		"messageId":     m.ID,
		"authorId":      m.AuthorID,
	}
	if m.EvidenceRef != "" {
		data["evidenceRef"] = m.EvidenceRef
	}
	// The author already knows; notify the other party.
	if m.AuthorID != d.BuyerID {
		e.emit(d.BuyerID, EventDisputeMessage, data)
	}
	if m.AuthorID != d.SellerID {
		e.emit(d.SellerID, EventDisputeMessage, data)
	}
}

func (e *Emitter) DisputeEscalated(ctx context.Context, d *dispute.Dispute) {
	metrics.DisputesEscalatedTotal.Inc()
	data := map[string]any{
		"disputeId":     d.ID,
		"transactionId": d.TransactionID,
	}
	e.emit(d.BuyerID, EventDisputeEscalated, data)
	e.emit(d.SellerID, EventDisputeEscalated, data)
}

// Compile-time assertions for both notifier surfaces.
var (
	_ escrow.Notifier  = (*Emitter)(nil)
	_ dispute.Notifier = (*Emitter)(nil)
)
