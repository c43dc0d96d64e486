package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/escrowd/internal/escrow"
	"github.com/mbd888/escrowd/internal/idgen"
	"github.com/mbd888/escrowd/internal/logging"
	"github.com/mbd888/escrowd/internal/party"
)

// Settler settles the funds side of a dispute. Implemented by the
// transaction engine.
type Settler interface {
	ResolveDispute(ctx context.Context, id, adminID string, req escrow.OverrideRequest) (*escrow.Transaction, error)
}

// Notifier receives dispute thread events. Delivery is best-effort.
type Notifier interface {
	DisputeMessage(ctx context.Context, d *Dispute, m *Message)
	DisputeEscalated(ctx context.Context, d *Dispute)
}

// Service manages dispute case files. It also implements the engine's
// DisputeRecorder, so raising a dispute on a transaction and filing the
// case are a single code path.
type Service struct {
	store     Store
	settler   Settler
	directory party.Directory
	notifier  Notifier
	logger    *slog.Logger
}

// NewService creates the dispute service.
func NewService(store Store, directory party.Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, directory: directory, logger: logger}
}

// WithSettler attaches the transaction engine.
func (s *Service) WithSettler(settler Settler) *Service {
	s.settler = settler
	return s
}

// WithNotifier attaches the domain event sink.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// HasOpen implements escrow.DisputeRecorder.
func (s *Service) HasOpen(ctx context.Context, transactionID string) (bool, error) {
	_, err := s.store.GetActiveByTransaction(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Open implements escrow.DisputeRecorder. Called by the engine under the
// transaction's lifecycle lock.
func (s *Service) Open(ctx context.Context, transactionID, buyerID, sellerID, reason string) (string, error) {
	now := time.Now().UTC()
	d := &Dispute{
		ID:            idgen.WithPrefix(idgen.DisputePrefix),
		TransactionID: transactionID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		Reason:        reason,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return "", fmt.Errorf("filing dispute: %w", err)
	}
	return d.ID, nil
}

// Resolve implements escrow.DisputeRecorder: marks the active case
// resolved while the engine settles the funds, inside its per-transaction
// critical section. No active case is a no-op, so an interrupted
// settlement can be retried.
func (s *Service) Resolve(ctx context.Context, transactionID, adminID, resolution string) error {
	d, err := s.store.GetActiveByTransaction(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.markResolved(ctx, d, adminID, resolution)
}

// Get returns a dispute visible to the caller: the parties or any admin.
func (s *Service) Get(ctx context.Context, id, callerID string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, callerID); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the caller's disputes. Admins may list any user's cases or,
// with an empty UserID, the whole review queue.
func (s *Service) List(ctx context.Context, callerID string, f Filter) ([]*Dispute, error) {
	actor, err := s.directory.Resolve(ctx, callerID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !actor.Role.IsAdmin() {
		f.UserID = callerID
	}
	return s.store.List(ctx, f)
}

// Thread returns a dispute's message thread, oldest first.
func (s *Service) Thread(ctx context.Context, id, callerID string) ([]*Message, error) {
	if _, err := s.Get(ctx, id, callerID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id)
}

// AddMessage appends to an active dispute's thread. Parties and admins
// may post; resolved cases are read-only. A message carries text, an
// evidence reference, or both.
func (s *Service) AddMessage(ctx context.Context, id, callerID, body, evidenceRef string) (*Message, error) {
	if body == "" && evidenceRef == "" {
		return nil, ErrEmptyMessage
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d, callerID); err != nil {
		return nil, err
	}
	if !d.Status.Active() {
		return nil, ErrClosed
	}

	m := &Message{
		ID:          idgen.WithPrefix(idgen.MessagePrefix),
		DisputeID:   d.ID,
		AuthorID:    callerID,
		Body:        body,
		EvidenceRef: evidenceRef,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.AddMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("adding message: %w", err)
	}
	if s.notifier != nil {
		s.notifier.DisputeMessage(ctx, d, m)
	}
	return m, nil
}

// Escalate flags an open dispute for priority review. Admin only; it
// changes the case's queue position and nothing on the transaction.
func (s *Service) Escalate(ctx context.Context, id, callerID string) (*Dispute, error) {
	actor, err := s.directory.Resolve(ctx, callerID)
	if err != nil || !actor.Role.IsAdmin() {
		return nil, ErrUnauthorized
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusEscalated {
		return nil, ErrAlreadyEscalated
	}
	if !d.Status.Active() {
		return nil, ErrClosed
	}

	now := time.Now().UTC()
	d.Status = StatusEscalated
	d.EscalatedAt = &now
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("escalating dispute: %w", err)
	}
	if s.notifier != nil {
		s.notifier.DisputeEscalated(ctx, d)
	}
	return d, nil
}

// Settle is the admin ruling on a case. The engine applies the requested
// outcome to the transaction and closes the case through the recorder in
// the same per-transaction critical section, so the funds write and the
// case write share one consistency boundary.
func (s *Service) Settle(ctx context.Context, id, adminID string, req escrow.OverrideRequest) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Active() {
		return nil, ErrClosed
	}

	if req.Resolution == "" {
		req.Resolution = string(req.Outcome)
	}
	if _, err := s.settler.ResolveDispute(ctx, d.TransactionID, adminID, req); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

func (s *Service) markResolved(ctx context.Context, d *Dispute, adminID, resolution string) error {
	now := time.Now().UTC()
	d.Status = StatusResolved
	d.ResolvedBy = adminID
	d.ResolvedAt = &now
	d.Resolution = resolution
	d.UpdatedAt = now
	if err := s.store.Update(ctx, d); err != nil {
		return fmt.Errorf("resolving dispute: %w", err)
	}
	logging.L(ctx).Info("dispute resolved",
		"dispute_id", d.ID,
		"transaction_id", d.TransactionID,
		"resolved_by", adminID)
	return nil
}

func (s *Service) authorize(ctx context.Context, d *Dispute, callerID string) error {
	if d.BuyerID == callerID || d.SellerID == callerID {
		return nil
	}
	actor, err := s.directory.Resolve(ctx, callerID)
	if err != nil || !actor.Role.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}

// Compile-time assertion that the service satisfies the engine's recorder.
var _ escrow.DisputeRecorder = (*Service)(nil)
