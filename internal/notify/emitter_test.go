package notify

import (
	"context"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/mbd888/escrowd/internal/dispute"
	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/money"
)

func counterValue(t *testing.T, eventType EventType) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := emitTotal.WithLabelValues(string(eventType)).Write(m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func sampleTransaction() *escrow.Transaction {
	return &escrow.Transaction{
		ID:       "txn_0123456789abcdef01234567",
		BuyerID:  "buyer-1",
		SellerID: "seller-1",
		Amount:   money.MustParse("1000.00"),
		Status:   escrow.StatusInEscrow,
	}
}

func TestEmitterFansOutToBothParties(t *testing.T) {
	sink := NewMemoryDispatcher()
	emitter := NewEmitter(sink, nil)
	txn := sampleTransaction()

	before := counterValue(t, EventPaymentSecured)
	emitter.PaymentSecured(context.Background(), txn)

	if got := counterValue(t, EventPaymentSecured) - before; got != 2 {
		t.Errorf("emit counter delta = %v, want 2 (both parties)", got)
	}

	for _, user := range []string{"buyer-1", "seller-1"} {
		events := sink.Recent(user, 0)
		if len(events) != 1 {
			t.Fatalf("%s events = %d", user, len(events))
		}
		e := events[0]
		if e.Type != EventPaymentSecured {
			t.Errorf("type = %s", e.Type)
		}
		if e.Data["transactionId"] != txn.ID || e.Data["amount"] != "1000.00" {
			t.Errorf("data = %+v", e.Data)
		}
		if e.ID == "" {
			t.Error("event without ID")
		}
	}
}

func TestEmitterPaymentFailedOnlyNotifiesBuyer(t *testing.T) {
	sink := NewMemoryDispatcher()
	emitter := NewEmitter(sink, nil)
	txn := sampleTransaction()
	txn.Status = escrow.StatusCancelled

	emitter.PaymentFailed(context.Background(), txn, "insufficient funds")

	if got := len(sink.Recent("buyer-1", 0)); got != 1 {
		t.Errorf("buyer events = %d", got)
	}
	if got := len(sink.Recent("seller-1", 0)); got != 0 {
		t.Errorf("seller events = %d, want 0", got)
	}
	if reason := sink.Recent("buyer-1", 0)[0].Data["reason"]; reason != "insufficient funds" {
		t.Errorf("reason = %v", reason)
	}
}

func TestEmitterDisputeMessageSkipsAuthor(t *testing.T) {
	sink := NewMemoryDispatcher()
	emitter := NewEmitter(sink, nil)

	d := &dispute.Dispute{
		ID:            "dsp_0123456789abcdef01234567",
		TransactionID: "txn_0123456789abcdef01234567",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
	}
	m := &dispute.Message{ID: "msg_0123456789abcdef01234567", AuthorID: "buyer-1"}

	emitter.DisputeMessage(context.Background(), d, m)

	if got := len(sink.Recent("buyer-1", 0)); got != 0 {
		t.Errorf("author notified about own message (%d events)", got)
	}
	if got := len(sink.Recent("seller-1", 0)); got != 1 {
		t.Errorf("seller events = %d", got)
	}
}

func TestEmitterNilDispatcherIsSafe(t *testing.T) {
	emitter := NewEmitter(nil, nil)
	emitter.d = nil
	// Must not panic.
	emitter.PaymentSecured(context.Background(), sampleTransaction())
}

func TestMemoryDispatcherBounded(t *testing.T) {
	sink := NewMemoryDispatcher()
	for i := 0; i < maxRetained+20; i++ {
		if err := sink.Dispatch(context.Background(), "u", &Event{Type: EventItemShipped}); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(sink.Recent("u", 0)); got != maxRetained {
		t.Errorf("retained = %d, want %d", got, maxRetained)
	}
	if got := len(sink.Recent("u", 5)); got != 5 {
		t.Errorf("limited = %d, want 5", got)
	}
}
