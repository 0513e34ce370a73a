package gateway

import "context"

// PurchaseUnit is one priced line of an order sent to the processor.
// Amount is in minor currency units (cents).
type PurchaseUnit struct {
	ProductID   string
	Description string
	Amount      int64
	Currency    string
}

// OrderResult is the normalized outcome of order creation.
// Token is the gateway-issued order identifier the buyer's browser carries
// through checkout; ApprovalURL is where the buyer is redirected to approve.
type OrderResult struct {
	Token       string
	Status      string
	ApprovalURL string
}

// CaptureResult is the normalized outcome of a capture call.
// AlreadyCaptured marks the idempotent repeat case: the processor reported
// the order as captured before this call, which callers treat as success.
type CaptureResult struct {
	CaptureID       string
	Status          string
	AlreadyCaptured bool
}

// RefundResult is the normalized outcome of a refund call.
type RefundResult struct {
	RefundID string
	Status   string
}

// Gateway is the payment processor contract consumed by the reconciliation
// service. Implementations must classify failures as transient vs rejected
// (see errors.go) so callers can decide retry eligibility.
type Gateway interface {
	CreateOrder(ctx context.Context, units []PurchaseUnit, returnURL, cancelURL string) (*OrderResult, error)
	CaptureOrder(ctx context.Context, orderToken string) (*CaptureResult, error)
	RefundCapture(ctx context.Context, captureID string) (*RefundResult, error)
}
