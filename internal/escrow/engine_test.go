package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/listing"
	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/party"
)

type stubGateway struct {
	mu       sync.Mutex
	requests []CaptureRequest
	failWith error
}

func (g *stubGateway) Capture(ctx context.Context, req CaptureRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return g.failWith
	}
	g.requests = append(g.requests, req)
	return nil
}

type stubDisputes struct {
	mu          sync.Mutex
	open        map[string]string // transaction ID → dispute ID
	resolved    map[string]string // transaction ID → admin ID
	resolutions map[string]string // transaction ID → ruling note
	resolveErr  error
}

func newStubDisputes() *stubDisputes {
	return &stubDisputes{
		open:        make(map[string]string),
		resolved:    make(map[string]string),
		resolutions: make(map[string]string),
	}
}

func (d *stubDisputes) HasOpen(ctx context.Context, transactionID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.open[transactionID]
	return ok, nil
}

func (d *stubDisputes) Open(ctx context.Context, transactionID, buyerID, sellerID, reason string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := idgen.WithPrefix(idgen.DisputePrefix)
	d.open[transactionID] = id
	return id, nil
}

func (d *stubDisputes) Resolve(ctx context.Context, transactionID, adminID, resolution string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolveErr != nil {
		return d.resolveErr
	}
	delete(d.open, transactionID)
	d.resolved[transactionID] = adminID
	d.resolutions[transactionID] = resolution
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

func (r *eventRecorder) PaymentSecured(ctx context.Context, t *Transaction) { r.record("payment.secured") }
func (r *eventRecorder) PaymentFailed(ctx context.Context, t *Transaction, reason string) {
	r.record("payment.failed")
}
func (r *eventRecorder) ItemShipped(ctx context.Context, t *Transaction)   { r.record("item.shipped") }
func (r *eventRecorder) ItemDelivered(ctx context.Context, t *Transaction) { r.record("item.delivered") }
func (r *eventRecorder) DisputeOpened(ctx context.Context, t *Transaction, disputeID, reason string) {
	r.record("dispute.opened")
}
func (r *eventRecorder) TransactionCompleted(ctx context.Context, t *Transaction, manner string) {
	r.record("transaction.completed:" + manner)
}
func (r *eventRecorder) TransactionCancelled(ctx context.Context, t *Transaction, reason string) {
	r.record("transaction.cancelled")
}
func (r *eventRecorder) AdminActionReversed(ctx context.Context, t *Transaction, actionID string) {
	r.record("admin.reversed")
}

type testEnv struct {
	engine   *Engine
	store    *MemoryStore
	gateway  *stubGateway
	disputes *stubDisputes
	events   *eventRecorder
	listing  *listing.Listing
	now      time.Time
}

const (
	buyerID      = "buyer-1"
	sellerID     = "seller-1"
	adminID      = "admin-1"
	superAdminID = "super-1"
	otherAdminID = "admin-2"
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	parties := party.NewMemoryStore()
	for _, a := range []*party.Actor{
		{ID: buyerID, Role: party.RoleMember, HasShippingAddress: true},
		{ID: sellerID, Role: party.RoleMember, HasShippingAddress: true},
		{ID: "no-address", Role: party.RoleMember},
		{ID: adminID, Role: party.RoleAdmin},
		{ID: otherAdminID, Role: party.RoleAdmin},
		{ID: superAdminID, Role: party.RoleSuperAdmin},
	} {
		if err := parties.Upsert(ctx, a); err != nil {
			t.Fatalf("seeding parties: %v", err)
		}
	}

	catalog := listing.NewMemoryStore()
	l := &listing.Listing{
		SellerID:  sellerID,
		Title:     "Vintage camera",
		Price:     money.MustParse("1000.00"),
		Available: true,
	}
	if err := catalog.Create(ctx, l); err != nil {
		t.Fatalf("seeding listing: %v", err)
	}

	env := &testEnv{
		store:    NewMemoryStore(),
		gateway:  &stubGateway{},
		disputes: newStubDisputes(),
		events:   &eventRecorder{},
		listing:  l,
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.engine = NewEngine(env.store, parties, catalog, env.gateway, nil).
		WithNotifier(env.events).
		WithDisputes(env.disputes)
	env.engine.now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

// initiateEscrowed creates a transaction and completes capture.
func (env *testEnv) initiateEscrowed(t *testing.T) *Transaction {
	t.Helper()
	ctx := context.Background()
	txn, _, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	txn, err = env.engine.CompleteCapture(ctx, txn.ID, true, "")
	if err != nil {
		t.Fatalf("CompleteCapture: %v", err)
	}
	return txn
}

// initiateDelivered runs a transaction through shipment and delivery.
func (env *testEnv) initiateDelivered(t *testing.T) *Transaction {
	t.Helper()
	ctx := context.Background()
	txn := env.initiateEscrowed(t)
	if _, err := env.engine.MarkShipped(ctx, txn.ID, sellerID, "TRK123", "https://proof.example/1", ""); err != nil {
		t.Fatalf("MarkShipped: %v", err)
	}
	txn, err := env.engine.ConfirmDelivery(ctx, txn.ID)
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	return txn
}

func TestInitiate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, fee, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if txn.Status != StatusPending {
		t.Errorf("status = %s, want pending", txn.Status)
	}
	if txn.SellerID != sellerID || txn.BuyerID != buyerID {
		t.Errorf("parties = %s/%s", txn.BuyerID, txn.SellerID)
	}
	if txn.Amount != money.MustParse("1000.00") {
		t.Errorf("amount = %s", txn.Amount)
	}
	if fee != money.MustParse("50.00") {
		t.Errorf("fee = %s, want 50.00", fee)
	}
	if len(env.gateway.requests) != 1 || env.gateway.requests[0].TransactionID != txn.ID {
		t.Errorf("capture not enqueued: %+v", env.gateway.requests)
	}
}

func TestInitiateRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		buyer     string
		listingID string
		wantErr   error
	}{
		{"no shipping address", "no-address", env.listing.ID, ErrNoShippingAddress},
		{"self purchase", sellerID, env.listing.ID, ErrSelfPurchase},
		{"unknown listing", buyerID, "lst_000000000000000000000000", ErrListingUnavailable},
		{"unknown buyer", "nobody", env.listing.ID, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.engine.Initiate(ctx, tt.buyer, tt.listingID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("unavailable listing", func(t *testing.T) {
		unavailable := &listing.Listing{SellerID: sellerID, Title: "Sold out", Price: money.MustParse("10.00")}
		catalog := env.engine.catalog.(*listing.MemoryStore)
		if err := catalog.Create(ctx, unavailable); err != nil {
			t.Fatal(err)
		}
		_, _, err := env.engine.Initiate(ctx, buyerID, unavailable.ID)
		if !errors.Is(err, ErrListingUnavailable) {
			t.Errorf("err = %v, want ErrListingUnavailable", err)
		}
	})
}

func TestCompleteCaptureSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, _, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
	if err != nil {
		t.Fatal(err)
	}

	txn, err = env.engine.CompleteCapture(ctx, txn.ID, true, "")
	if err != nil {
		t.Fatalf("CompleteCapture: %v", err)
	}
	if txn.Status != StatusInEscrow {
		t.Errorf("status = %s, want in_escrow", txn.Status)
	}
	if txn.CaptureOutcome != CaptureCaptured {
		t.Errorf("outcome = %q", txn.CaptureOutcome)
	}
	if got := env.events.count("payment.secured"); got != 1 {
		t.Errorf("payment.secured events = %d, want 1", got)
	}

	// Same outcome again is a no-op.
	again, err := env.engine.CompleteCapture(ctx, txn.ID, true, "")
	if err != nil {
		t.Fatalf("repeat CompleteCapture: %v", err)
	}
	if again.Status != StatusInEscrow {
		t.Errorf("repeat changed status to %s", again.Status)
	}
	if got := env.events.count("payment.secured"); got != 1 {
		t.Errorf("repeat re-emitted payment.secured (%d events)", got)
	}

	// A contradictory outcome is a conflict.
	if _, err := env.engine.CompleteCapture(ctx, txn.ID, false, "late decline"); !errors.Is(err, ErrConflict) {
		t.Errorf("contradictory outcome err = %v, want ErrConflict", err)
	}
}

func TestCompleteCaptureDecline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, _, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
	if err != nil {
		t.Fatal(err)
	}

	txn, err = env.engine.CompleteCapture(ctx, txn.ID, false, "insufficient funds")
	if err != nil {
		t.Fatalf("CompleteCapture: %v", err)
	}
	if txn.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", txn.Status)
	}
	if txn.FailureReason != "insufficient funds" {
		t.Errorf("failure reason = %q", txn.FailureReason)
	}
	if txn.CancelledAt == nil {
		t.Error("cancelledAt not set")
	}
	// Capture failure is not an admin intervention.
	if len(txn.AdminActions) != 0 {
		t.Errorf("ledger has %d entries, want 0", len(txn.AdminActions))
	}
	if got := env.events.count("payment.failed"); got != 1 {
		t.Errorf("payment.failed events = %d, want 1", got)
	}
}

func TestCompleteCaptureDeclineDefaultReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	txn, _, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
	if err != nil {
		t.Fatal(err)
	}
	txn, err = env.engine.CompleteCapture(ctx, txn.ID, false, "")
	if err != nil {
		t.Fatalf("CompleteCapture: %v", err)
	}
	if txn.FailureReason != "capture declined" {
		t.Errorf("failure reason = %q, want %q", txn.FailureReason, "capture declined")
	}
}

func TestMarkShipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateEscrowed(t)

	t.Run("requires tracking and proof", func(t *testing.T) {
		if _, err := env.engine.MarkShipped(ctx, txn.ID, sellerID, "", "proof", ""); !errors.Is(err, ErrMissingTracking) {
			t.Errorf("err = %v", err)
		}
		if _, err := env.engine.MarkShipped(ctx, txn.ID, sellerID, "TRK1", "", ""); !errors.Is(err, ErrMissingTracking) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("seller only", func(t *testing.T) {
		if _, err := env.engine.MarkShipped(ctx, txn.ID, buyerID, "TRK1", "proof", ""); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("stale expected status", func(t *testing.T) {
		if _, err := env.engine.MarkShipped(ctx, txn.ID, sellerID, "TRK1", "proof", StatusPending); !errors.Is(err, ErrConflict) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("ships", func(t *testing.T) {
		shipped, err := env.engine.MarkShipped(ctx, txn.ID, sellerID, "TRK123", "https://proof.example/1", StatusInEscrow)
		if err != nil {
			t.Fatalf("MarkShipped: %v", err)
		}
		if shipped.Status != StatusShipped || shipped.ShippedAt == nil {
			t.Errorf("status = %s, shippedAt = %v", shipped.Status, shipped.ShippedAt)
		}
	})

	t.Run("cannot ship twice", func(t *testing.T) {
		if _, err := env.engine.MarkShipped(ctx, txn.ID, sellerID, "TRK9", "proof", ""); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestBuyerAcceptsEarly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)

	if txn.InspectionEndsAt == nil || !txn.InspectionEndsAt.Equal(env.now.Add(InspectionPeriod)) {
		t.Fatalf("inspection window = %v", txn.InspectionEndsAt)
	}

	if _, err := env.engine.AcceptItem(ctx, txn.ID, sellerID, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("seller accept err = %v, want ErrUnauthorized", err)
	}

	accepted, err := env.engine.AcceptItem(ctx, txn.ID, buyerID, StatusDelivered)
	if err != nil {
		t.Fatalf("AcceptItem: %v", err)
	}
	if accepted.Status != StatusCompleted || accepted.CompletedAt == nil {
		t.Errorf("status = %s, completedAt = %v", accepted.Status, accepted.CompletedAt)
	}
	if got := env.events.count("transaction.completed:manual"); got != 1 {
		t.Errorf("manual completion events = %d", got)
	}

	// Window lapse after acceptance must not re-complete.
	env.advance(InspectionPeriod + time.Hour)
	if _, err := env.engine.AutoRelease(ctx, txn.ID); err != nil {
		t.Fatalf("AutoRelease after accept: %v", err)
	}
	if got := env.events.count("transaction.completed:auto"); got != 0 {
		t.Errorf("auto completion events = %d, want 0", got)
	}
}

func TestAutoRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)

	// Window still open.
	env.advance(InspectionPeriod - time.Minute)
	got, err := env.engine.AutoRelease(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDelivered {
		t.Fatalf("released before window lapsed, status = %s", got.Status)
	}

	env.advance(2 * time.Minute)
	got, err = env.engine.AutoRelease(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got := env.events.count("transaction.completed:auto"); got != 1 {
		t.Errorf("auto completion events = %d, want 1", got)
	}
}

func TestAutoReleaseConcurrentExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)
	env.advance(InspectionPeriod + time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.AutoRelease(ctx, txn.ID); err != nil {
				t.Errorf("AutoRelease: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := env.events.count("transaction.completed:auto"); got != 1 {
		t.Errorf("auto completion events = %d, want exactly 1", got)
	}
	final, err := env.store.Get(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusCompleted {
		t.Errorf("final status = %s", final.Status)
	}
}

func TestRaiseDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)

	if _, _, err := env.engine.RaiseDispute(ctx, txn.ID, buyerID, "", ""); !errors.Is(err, ErrMissingReason) {
		t.Errorf("empty reason err = %v", err)
	}
	if _, _, err := env.engine.RaiseDispute(ctx, txn.ID, sellerID, "wrong item", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("seller dispute err = %v", err)
	}

	disputed, disputeID, err := env.engine.RaiseDispute(ctx, txn.ID, buyerID, "item arrived broken", StatusDelivered)
	if err != nil {
		t.Fatalf("RaiseDispute: %v", err)
	}
	if disputed.Status != StatusDisputed {
		t.Errorf("status = %s", disputed.Status)
	}
	if disputeID == "" {
		t.Error("no dispute ID returned")
	}
	if got := env.events.count("dispute.opened"); got != 1 {
		t.Errorf("dispute.opened events = %d", got)
	}

	// Dispute freezes the clock: auto-release must not fire.
	env.advance(InspectionPeriod + time.Hour)
	frozen, err := env.engine.AutoRelease(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if frozen.Status != StatusDisputed {
		t.Errorf("auto-release fired on disputed transaction, status = %s", frozen.Status)
	}

	// Disputing is only possible from delivered.
	if _, _, err := env.engine.RaiseDispute(ctx, txn.ID, buyerID, "still broken", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("second dispute err = %v", err)
	}
}

func TestDisputeAfterAcceptanceRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)

	if _, err := env.engine.AcceptItem(ctx, txn.ID, buyerID, ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.engine.RaiseDispute(ctx, txn.ID, buyerID, "changed my mind", ""); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("err = %v, want ErrIllegalTransition", err)
	}
}

func TestOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("admin only", func(t *testing.T) {
		txn := env.initiateDelivered(t)
		_, err := env.engine.Override(ctx, txn.ID, buyerID, OverrideRequest{Outcome: OutcomeRelease})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("forced payout", func(t *testing.T) {
		txn := env.initiateDelivered(t)
		got, err := env.engine.Override(ctx, txn.ID, adminID, OverrideRequest{
			Outcome: OutcomeRelease,
			Details: "seller provided delivery evidence",
		})
		if err != nil {
			t.Fatalf("Override: %v", err)
		}
		if got.Status != StatusCompleted {
			t.Errorf("status = %s", got.Status)
		}
		if len(got.AdminActions) != 1 {
			t.Fatalf("ledger entries = %d", len(got.AdminActions))
		}
		a := got.AdminActions[0]
		if a.Kind != ActionForcedPayout || a.OriginalStatus != StatusDelivered || a.AdminID != adminID {
			t.Errorf("action = %+v", a)
		}
	})

	t.Run("full refund", func(t *testing.T) {
		txn := env.initiateEscrowed(t)
		got, err := env.engine.Override(ctx, txn.ID, adminID, OverrideRequest{Outcome: OutcomeFullRefund})
		if err != nil {
			t.Fatalf("Override: %v", err)
		}
		if got.Status != StatusCancelled || got.RefundedAmount == nil || *got.RefundedAmount != got.Amount {
			t.Errorf("refund state: status=%s refunded=%v", got.Status, got.RefundedAmount)
		}
		// Every cancellation records a cause.
		if got.FailureReason == "" {
			t.Error("failure reason not set on admin cancellation")
		}
	})

	t.Run("rejected on pending and terminal", func(t *testing.T) {
		pending, _, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.Override(ctx, pending.ID, adminID, OverrideRequest{Outcome: OutcomeRelease}); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("pending override err = %v", err)
		}

		done := env.initiateDelivered(t)
		if _, err := env.engine.AcceptItem(ctx, done.ID, buyerID, ""); err != nil {
			t.Fatal(err)
		}
		if _, err := env.engine.Override(ctx, done.ID, adminID, OverrideRequest{Outcome: OutcomeFullRefund}); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("terminal override err = %v", err)
		}
	})
}

func TestPartialRefundBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, tt := range []struct {
		name    string
		amount  money.Amount
		wantErr bool
	}{
		{"zero", 0, true},
		{"negative", -1, true},
		{"one minor unit over", money.MustParse("1000.00") + 1, true},
		{"one minor unit", 1, false},
		{"exactly full amount", money.MustParse("1000.00"), false},
		{"partial", money.MustParse("400.00"), false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			txn := env.initiateDelivered(t)
			got, err := env.engine.Override(ctx, txn.ID, adminID, OverrideRequest{
				Outcome: OutcomePartialRefund,
				Amount:  tt.amount,
			})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Errorf("err = %v, want ErrInvalidAmount", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Override: %v", err)
			}
			if got.Status != StatusCancelled || got.RefundedAmount == nil || *got.RefundedAmount != tt.amount {
				t.Errorf("status=%s refunded=%v", got.Status, got.RefundedAmount)
			}
			if got.FailureReason == "" {
				t.Error("failure reason not set on admin cancellation")
			}
			// Full-amount refunds through this path stay partial in the ledger.
			if got.AdminActions[len(got.AdminActions)-1].Kind != ActionPartialRefund {
				t.Errorf("kind = %s", got.AdminActions[len(got.AdminActions)-1].Kind)
			}
		})
	}
}

func TestOverrideResolvesOpenDispute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)

	if _, _, err := env.engine.RaiseDispute(ctx, txn.ID, buyerID, "not as described", ""); err != nil {
		t.Fatal(err)
	}

	got, err := env.engine.Override(ctx, txn.ID, adminID, OverrideRequest{
		Outcome:    OutcomePartialRefund,
		Amount:     money.MustParse("250.00"),
		Resolution: "both parties at fault",
	})
	if err != nil {
		t.Fatalf("Override: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}
	if env.disputes.resolved[txn.ID] != adminID {
		t.Errorf("dispute not resolved by override: %+v", env.disputes.resolved)
	}
	if env.disputes.resolutions[txn.ID] != "both parties at fault" {
		t.Errorf("ruling note = %q", env.disputes.resolutions[txn.ID])
	}
	if open, _ := env.disputes.HasOpen(ctx, txn.ID); open {
		t.Error("dispute still open after override")
	}
}

func TestOverrideAbortsWhenDisputeResolveFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateDelivered(t)

	if _, _, err := env.engine.RaiseDispute(ctx, txn.ID, buyerID, "not as described", ""); err != nil {
		t.Fatal(err)
	}
	env.disputes.resolveErr = fmt.Errorf("dispute store down")

	if _, err := env.engine.Override(ctx, txn.ID, adminID, OverrideRequest{Outcome: OutcomeFullRefund}); err == nil {
		t.Fatal("Override succeeded with the case write failing")
	}

	// Nothing settles until the case closes with it.
	after, err := env.store.Get(ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != StatusDisputed || after.RefundedAmount != nil || len(after.AdminActions) != 0 {
		t.Errorf("aborted override left state: %+v", after)
	}
	if got := env.events.count("transaction.cancelled"); got != 0 {
		t.Errorf("cancellation events = %d, want 0", got)
	}

	// Once the case store recovers, the settlement goes through.
	env.disputes.resolveErr = nil
	settled, err := env.engine.Override(ctx, txn.ID, adminID, OverrideRequest{Outcome: OutcomeFullRefund})
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if settled.Status != StatusCancelled {
		t.Errorf("status = %s", settled.Status)
	}
}

func TestGetVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	txn := env.initiateEscrowed(t)

	for _, caller := range []string{buyerID, sellerID, adminID, superAdminID} {
		if _, err := env.engine.Get(ctx, txn.ID, caller); err != nil {
			t.Errorf("Get as %s: %v", caller, err)
		}
	}
	if _, err := env.engine.Get(ctx, txn.ID, "no-address"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger Get err = %v", err)
	}
	if _, err := env.engine.Get(ctx, "txn_000000000000000000000000", buyerID); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("missing Get err = %v", err)
	}
}

func TestIntegrityChecks(t *testing.T) {
	now := time.Now()
	over := money.MustParse("2.00")
	cases := []struct {
		name string
		t    Transaction
		ok   bool
	}{
		{"clean completed", Transaction{Status: StatusCompleted, Amount: 100, CompletedAt: &now}, true},
		{"completed and cancelled", Transaction{Status: StatusCompleted, Amount: 100, CompletedAt: &now, CancelledAt: &now}, false},
		{"disputed with completion", Transaction{Status: StatusDisputed, Amount: 100, CompletedAt: &now}, false},
		{"refund exceeds amount", Transaction{Status: StatusCancelled, Amount: 100, CancelledAt: &now, RefundedAmount: &over}, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.t.CheckIntegrity()
			if tt.ok && err != nil {
				t.Errorf("CheckIntegrity = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("CheckIntegrity = nil, want error")
			}
		})
	}
}

func TestListFiltering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := env.initiateEscrowed(t)
	env.advance(time.Second)
	b := env.initiateDelivered(t)

	all, err := env.engine.List(ctx, buyerID, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	// Newest first.
	if all[0].ID != b.ID || all[1].ID != a.ID {
		t.Errorf("order = %s, %s", all[0].ID, all[1].ID)
	}

	delivered, err := env.engine.List(ctx, sellerID, Filter{Status: StatusDelivered})
	if err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 1 || delivered[0].ID != b.ID {
		t.Errorf("delivered filter = %+v", delivered)
	}

	// Members cannot list someone else's transactions.
	if _, err := env.engine.List(ctx, buyerID, Filter{UserID: sellerID}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("cross-user list err = %v", err)
	}
	// Admins can.
	if _, err := env.engine.List(ctx, adminID, Filter{UserID: sellerID}); err != nil {
		t.Errorf("admin cross-user list err = %v", err)
	}
}

func TestCaptureEnqueueFailureLeavesPending(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.failWith = fmt.Errorf("gateway down")
	ctx := context.Background()

	txn, _, err := env.engine.Initiate(ctx, buyerID, env.listing.ID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	// The stuck-pending scan owns alerting; the transaction just stays put.
	if txn.Status != StatusPending {
		t.Errorf("status = %s", txn.Status)
	}
}
