package purchases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linguadesk/lessonpay/internal/aws"
	"github.com/linguadesk/lessonpay/internal/catalog"
	"github.com/linguadesk/lessonpay/internal/gateway"
	"github.com/linguadesk/lessonpay/internal/ledger"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 100 * time.Millisecond
)

// Service owns the purchase state machine end to end:
// NoOrder -> pending -> completed -> refunded, with cancel (delete) reachable
// only from pending. Stateless; holds only references to its collaborators.
type Service struct {
	gateway  gateway.Gateway
	store    *ledger.Store
	products catalog.Source
	escalate *aws.Publisher
	metrics  *aws.Metrics

	returnURL string
	cancelURL string

	maxRetries int
	baseDelay  time.Duration
	sleepFunc  func(time.Duration)
}

// NewService wires a Service. escalate and metrics may be nil in tests.
func NewService(gw gateway.Gateway, store *ledger.Store, products catalog.Source, escalate *aws.Publisher, metrics *aws.Metrics) *Service {
	return &Service{
		gateway:    gw,
		store:      store,
		products:   products,
		escalate:   escalate,
		metrics:    metrics,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		sleepFunc:  time.Sleep,
	}
}

// InitiatePurchase validates the product, creates the remote order, then
// inserts the pending ledger record. A gateway failure leaves no local
// state. A ledger failure after a successful order creation leaves an
// orphaned remote order and no record: the buyer can still reach the cancel
// path, or the order lapses on the gateway side. That bounded inconsistency
// is preferred over fabricating a record for an order the buyer never saw.
func (s *Service) InitiatePurchase(ctx context.Context, buyer Buyer, in InitiateInput) (*InitiateResult, error) {
	lesson, err := s.products.MainLesson(ctx, in.ProductID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if lesson == nil {
		return nil, ErrProductNotFound
	}
	if !lesson.Published || lesson.PriceCents <= 0 {
		return nil, ErrProductNotPurchasable
	}

	currency := lesson.Currency
	if currency == "" {
		currency = "USD"
	}

	units := []gateway.PurchaseUnit{{
		ProductID:   lesson.ID,
		Description: lesson.Title,
		Amount:      lesson.PriceCents,
		Currency:    currency,
	}}

	order, err := s.gateway.CreateOrder(ctx, units, s.returnURL, s.cancelURL)
	if err != nil {
		// no ledger write has happened; safe to retry from scratch
		return nil, err
	}

	rec := &ledger.PurchaseRecord{
		ID:             uuid.NewString(),
		OrderToken:     order.Token,
		UserID:         buyer.UserID,
		UserEmail:      buyer.Email,
		ProductID:      lesson.ID,
		PurchaseAmount: lesson.PriceCents,
		Currency:       currency,
		PaymentMethod:  in.PaymentMethod,
		PlatformType:   in.PlatformType,
		PaymentStatus:  ledger.StatusPending,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		log.Printf("orphaned gateway order %s: ledger insert failed: %v", order.Token, err)
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	s.count(ctx, aws.MetricPurchaseInitiated)
	log.Printf("purchase initiated order=%s user=%s product=%s amount=%d",
		order.Token, buyer.UserID, lesson.ID, lesson.PriceCents)

	return &InitiateResult{OrderToken: order.Token, ApprovalURL: order.ApprovalURL}, nil
}

// CompletePurchase captures the order and moves the ledger record to the
// capture's reported status. Capture happens strictly before the local
// status write; the write retries with bounded backoff and escalates to the
// reconciliation queue when the budget runs out, because at that point the
// buyer has been charged. Repeat calls on a completed record return it
// unchanged.
func (s *Service) CompletePurchase(ctx context.Context, orderToken string) (*ledger.PurchaseRecord, error) {
	res, err := s.gateway.CaptureOrder(ctx, orderToken)
	if err != nil {
		// rejected: hard failure, no ledger mutation.
		// transient: record stays pending for a later retry or abandonment.
		return nil, err
	}

	status := strings.ToLower(res.Status)

	if res.AlreadyCaptured && res.CaptureID == "" {
		// repeat capture with no recoverable reference; keep whatever the
		// ledger already holds
		existing, ferr := s.store.FindByToken(ctx, orderToken)
		if ferr == nil && existing != nil && existing.PaymentStatus == status {
			return existing, nil
		}
	}

	rec, err := s.applyCapture(ctx, orderToken, res.CaptureID, status)
	if err != nil {
		return nil, err
	}

	s.count(ctx, aws.MetricPurchaseCompleted)
	log.Printf("purchase completed order=%s capture=%s", orderToken, res.CaptureID)
	return rec, nil
}

// applyCapture drives the post-capture ledger write until it lands or the
// retry budget is spent. Conflicts are resolved immediately (idempotent
// repeat vs genuinely wrong state); only infrastructure failures retry.
func (s *Service) applyCapture(ctx context.Context, orderToken, captureID, status string) (*ledger.PurchaseRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.sleepFunc(s.baseDelay << (attempt - 1))
			if ctx.Err() != nil {
				break
			}
		}

		rec, err := s.store.MarkCompleted(ctx, orderToken, captureID, status)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ledger.ErrConflict) {
			existing, ferr := s.store.FindByToken(ctx, orderToken)
			if ferr != nil {
				lastErr = ferr
				continue
			}
			if existing == nil {
				// cancelled before this capture landed locally; a stray
				// complete must not resurrect the record
				return nil, ledger.ErrNotFound
			}
			if existing.PaymentStatus == status {
				return existing, nil
			}
			return nil, ledger.ErrConflict
		}
		lastErr = err
		log.Printf("ledger write retry %d for order=%s: %v", attempt+1, orderToken, err)
	}

	s.escalateCapture(ctx, orderToken, captureID, status, lastErr)
	return nil, ErrReconcilePending
}

// escalateCapture hands the charged-but-unrecorded purchase to the
// reconciliation queue. This path must never be silently dropped.
func (s *Service) escalateCapture(ctx context.Context, orderToken, captureID, status string, cause error) {
	s.count(ctx, aws.MetricReconciliationEscalated)
	log.Printf("ESCALATION order=%s capture=%s: ledger write exhausted retries: %v", orderToken, captureID, cause)

	if s.escalate == nil {
		return
	}
	msg := ReconcileMessage{
		OrderToken:    orderToken,
		CaptureID:     captureID,
		CaptureStatus: status,
	}
	body, _ := json.Marshal(msg)
	attrs := map[string]string{
		"order_token": orderToken,
		"capture_id":  captureID,
	}
	if err := s.escalate.SendReconcileMessage(ctx, string(body), attrs); err != nil {
		// queue and ledger both down; the log line above is the manual trail
		log.Printf("ESCALATION enqueue failed for order=%s: %v", orderToken, err)
	}
}

// CancelPurchase deletes the pending record for the cancel-return redirect.
// A missing record is success (refresh, double navigation); a record that
// already completed is a conflict and stays untouched.
func (s *Service) CancelPurchase(ctx context.Context, orderToken string) (bool, error) {
	err := s.store.DeleteByToken(ctx, orderToken)
	if err == nil {
		s.count(ctx, aws.MetricPurchaseCancelled)
		log.Printf("purchase cancelled order=%s", orderToken)
		return true, nil
	}
	if errors.Is(err, ledger.ErrConflict) {
		rec, ferr := s.store.FindByToken(ctx, orderToken)
		if ferr != nil {
			return false, ferr
		}
		if rec == nil {
			return true, nil
		}
		return false, ledger.ErrConflict
	}
	return false, err
}

// RefundPurchase refunds a completed purchase by its surrogate id.
// Refunds are never assumed: the ledger moves to refunded only after the
// gateway confirms, and a gateway failure leaves the record completed.
func (s *Service) RefundPurchase(ctx context.Context, purchaseID string) (*ledger.PurchaseRecord, error) {
	rec, err := s.store.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ledger.ErrNotFound
	}
	return s.refund(ctx, rec)
}

// RefundByCaptureID resolves the record holding a capture reference and
// refunds it; the admin refund route is keyed by capture id.
func (s *Service) RefundByCaptureID(ctx context.Context, captureID string) (*ledger.PurchaseRecord, error) {
	rec, err := s.store.FindByCaptureID(ctx, captureID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ledger.ErrNotFound
	}
	return s.refund(ctx, rec)
}

func (s *Service) refund(ctx context.Context, rec *ledger.PurchaseRecord) (*ledger.PurchaseRecord, error) {
	if rec.PaymentStatus != ledger.StatusCompleted {
		return nil, ledger.ErrConflict
	}
	if rec.CaptureID == "" {
		return nil, fmt.Errorf("%w: completed record has no capture reference", ledger.ErrConflict)
	}

	res, err := s.gateway.RefundCapture(ctx, rec.CaptureID)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.CompareAndSetStatus(ctx, rec.OrderToken, ledger.StatusCompleted, ledger.StatusRefunded)
	if errors.Is(err, ledger.ErrConflict) {
		// raced with another refund of the same capture; the gateway is the
		// source of truth, so an already-refunded record is the same outcome
		existing, ferr := s.store.FindByToken(ctx, rec.OrderToken)
		if ferr == nil && existing != nil && existing.PaymentStatus == ledger.StatusRefunded {
			return existing, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.count(ctx, aws.MetricPurchaseRefunded)
	log.Printf("purchase refunded order=%s capture=%s refund=%s", rec.OrderToken, rec.CaptureID, res.RefundID)
	return updated, nil
}

// ListHistory is the ledger listing passthrough for the admin UI.
func (s *Service) ListHistory(ctx context.Context, filters ledger.ListFilters, limit, offset int) ([]ledger.PurchaseRecord, int, error) {
	return s.store.List(ctx, filters, limit, offset)
}

func (s *Service) count(ctx context.Context, name string) {
	if s.metrics != nil {
		s.metrics.Count(ctx, name)
	}
}

// return/cancel URLs are fixed per deployment; SetReturnURLs is called once
// during wiring.
func (s *Service) SetReturnURLs(returnURL, cancelURL string) {
	s.returnURL = returnURL
	s.cancelURL = cancelURL
}
