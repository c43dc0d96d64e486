//go:build integration

package escrow

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/mbd888/escrowd/internal/money"
	"github.com/mbd888/escrowd/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.Truncate(t, db, "admin_actions", "dispute_messages", "disputes", "transactions")
	return NewPostgresStore(db), db
}

func baseTransaction(id string, now time.Time) *Transaction {
	return &Transaction{
		ID:        id,
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		ListingID: "lst_00000000000000000000000a",
		Amount:    money.MustParse("1000.00"),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgresTransaction_CreateAndGet(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	tr := baseTransaction("txn_00000000000000000000001a", now)
	tr.Description = "Vintage camera"
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BuyerID != "buyer-1" || got.SellerID != "seller-1" {
		t.Errorf("parties: got %s/%s", got.BuyerID, got.SellerID)
	}
	if got.Amount != money.MustParse("1000.00") {
		t.Errorf("Amount: got %s", got.Amount)
	}
	if got.Status != StatusPending {
		t.Errorf("Status: got %s", got.Status)
	}
	if got.Description != "Vintage camera" {
		t.Errorf("Description: got %q", got.Description)
	}
	if got.ShippedAt != nil || got.DeliveredAt != nil || got.RefundedAmount != nil {
		t.Error("nullable fields should start nil")
	}
	if len(got.AdminActions) != 0 {
		t.Errorf("AdminActions should start empty, got %d", len(got.AdminActions))
	}
}

func TestPostgresTransaction_GetNotFound(t *testing.T) {
	store, _ := setupTestDB(t)

	_, err := store.Get(context.Background(), "txn_00000000000000000000dead")
	if err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPostgresTransaction_UpdateWithActions(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	tr := baseTransaction("txn_00000000000000000000002a", now)
	tr.Status = StatusDisputed
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	refund := money.MustParse("250.00")
	cancelledAt := now.Add(time.Minute)
	tr.Status = StatusCancelled
	tr.RefundedAmount = &refund
	tr.CancelledAt = &cancelledAt
	tr.UpdatedAt = cancelledAt

	action := &AdminAction{
		ID:             "act_00000000000000000000002b",
		TransactionID:  tr.ID,
		AdminID:        "admin-1",
		Kind:           ActionPartialRefund,
		Details:        "shared fault",
		Amount:         &refund,
		OriginalStatus: StatusDisputed,
		CreatedAt:      cancelledAt,
	}
	if err := store.Update(ctx, tr, action); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("Status: got %s", got.Status)
	}
	if got.RefundedAmount == nil || *got.RefundedAmount != refund {
		t.Errorf("RefundedAmount: got %v", got.RefundedAmount)
	}
	if len(got.AdminActions) != 1 {
		t.Fatalf("expected 1 admin action, got %d", len(got.AdminActions))
	}
	a := got.AdminActions[0]
	if a.Kind != ActionPartialRefund || a.OriginalStatus != StatusDisputed {
		t.Errorf("action: got kind=%s original=%s", a.Kind, a.OriginalStatus)
	}
	if a.Amount == nil || *a.Amount != refund {
		t.Errorf("action amount: got %v", a.Amount)
	}
}

func TestPostgresTransaction_UpdateNotFound(t *testing.T) {
	store, _ := setupTestDB(t)
	now := time.Now()

	tr := baseTransaction("txn_00000000000000000000dead", now)
	err := store.Update(context.Background(), tr)
	if err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPostgresTransaction_ActionOrdering(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	tr := baseTransaction("txn_00000000000000000000003a", now)
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ids := []string{
		"act_00000000000000000000003b",
		"act_00000000000000000000003c",
		"act_00000000000000000000003d",
	}
	for _, id := range ids {
		a := &AdminAction{
			ID: id, TransactionID: tr.ID, AdminID: "admin-1",
			Kind: ActionForcedPayout, OriginalStatus: StatusDelivered, CreatedAt: now,
		}
		if err := store.Update(ctx, tr, a); err != nil {
			t.Fatalf("Update %s failed: %v", id, err)
		}
	}

	actions, err := store.ListActions(ctx, tr.ID)
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(actions))
	}
	// Insert order survives identical created_at timestamps.
	for i, id := range ids {
		if actions[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, actions[i].ID, id)
		}
	}
}

func TestPostgresTransaction_ListFilters(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)

	seed := []struct {
		id     string
		buyer  string
		status Status
	}{
		{"txn_00000000000000000000004a", "buyer-1", StatusPending},
		{"txn_00000000000000000000004b", "buyer-1", StatusCompleted},
		{"txn_00000000000000000000004c", "buyer-2", StatusPending},
	}
	for i, s := range seed {
		tr := baseTransaction(s.id, now.Add(time.Duration(i)*time.Second))
		tr.BuyerID = s.buyer
		tr.Status = s.status
		if s.status == StatusCompleted {
			completed := now
			tr.CompletedAt = &completed
		}
		if err := store.Create(ctx, tr); err != nil {
			t.Fatalf("Create %s failed: %v", s.id, err)
		}
	}

	got, err := store.List(ctx, Filter{UserID: "buyer-1", Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("buyer-1: expected 2, got %d", len(got))
	}
	// Newest first.
	if len(got) == 2 && !got[0].CreatedAt.After(got[1].CreatedAt) {
		t.Error("expected created_at DESC ordering")
	}

	got, err = store.List(ctx, Filter{Status: StatusPending, Limit: 10})
	if err != nil {
		t.Fatalf("List by status failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("pending: expected 2, got %d", len(got))
	}

	got, err = store.List(ctx, Filter{UserID: "buyer-1", Limit: 1})
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limit: expected 1, got %d", len(got))
	}
}

func TestPostgresTransaction_DeadlineQueries(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Microsecond)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := baseTransaction("txn_00000000000000000000005a", now)
	expired.Status = StatusDelivered
	expired.DeliveredAt = &past
	expired.InspectionEndsAt = &past

	open := baseTransaction("txn_00000000000000000000005b", now)
	open.Status = StatusDelivered
	open.DeliveredAt = &past
	open.InspectionEndsAt = &future

	shipped := baseTransaction("txn_00000000000000000000005c", now)
	shipped.Status = StatusShipped
	shipped.ShippedAt = &past

	stuck := baseTransaction("txn_00000000000000000000005d", past)
	stuck.Status = StatusPending

	for _, tr := range []*Transaction{expired, open, shipped, stuck} {
		if err := store.Create(ctx, tr); err != nil {
			t.Fatalf("Create %s failed: %v", tr.ID, err)
		}
	}

	got, err := store.ListInspectionExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListInspectionExpired failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Errorf("expected only %s expired, got %d rows", expired.ID, len(got))
	}

	got, err = store.ListShippedBefore(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListShippedBefore failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != shipped.ID {
		t.Errorf("expected only %s shipped, got %d rows", shipped.ID, len(got))
	}

	got, err = store.ListPendingBefore(ctx, now.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPendingBefore failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != stuck.ID {
		t.Errorf("expected only %s stuck, got %d rows", stuck.ID, len(got))
	}
}
