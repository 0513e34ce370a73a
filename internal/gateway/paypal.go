package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
)

const defaultRequestTimeout = 15 * time.Second

// PayPalGateway implements Gateway against the PayPal Orders v2 API.
type PayPalGateway struct {
	client  *paypal.Client
	timeout time.Duration
}

// NewPayPalGateway creates the client and fetches an initial access token.
// env selects "live" or the sandbox (default).
func NewPayPalGateway(clientID, clientSecret, env string) (*PayPalGateway, error) {
	apiBase := paypal.APIBaseSandBox
	if env == "live" {
		apiBase = paypal.APIBaseLive
	}

	client, err := paypal.NewClient(clientID, clientSecret, apiBase)
	if err != nil {
		return nil, fmt.Errorf("new paypal client: %w", err)
	}

	if _, err := client.GetAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("paypal access token: %w", err)
	}

	log.Printf("paypal gateway initialized (env=%s)", env)
	return &PayPalGateway{client: client, timeout: defaultRequestTimeout}, nil
}

// CreateOrder creates a CAPTURE-intent order and returns the order token
// plus the approval URL the buyer must visit. No local state is written here.
func (g *PayPalGateway) CreateOrder(ctx context.Context, units []PurchaseUnit, returnURL, cancelURL string) (*OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	purchaseUnits := make([]paypal.PurchaseUnitRequest, 0, len(units))
	for _, u := range units {
		purchaseUnits = append(purchaseUnits, paypal.PurchaseUnitRequest{
			ReferenceID: u.ProductID,
			Description: u.Description,
			Amount: &paypal.PurchaseUnitAmount{
				Currency: strings.ToUpper(u.Currency),
				Value:    minorUnitsToValue(u.Amount),
			},
		})
	}

	appContext := &paypal.ApplicationContext{
		ReturnURL: returnURL,
		CancelURL: cancelURL,
	}

	order, err := g.client.CreateOrder(ctx, paypal.OrderIntentCapture, purchaseUnits, nil, appContext)
	if err != nil {
		classified, _ := classify("create-order", err)
		return nil, classified
	}

	approvalURL := approvalLink(order.Links)
	if approvalURL == "" {
		return nil, &RejectedError{Op: "create-order", Reason: "no approval link in order response"}
	}

	return &OrderResult{
		Token:       order.ID,
		Status:      order.Status,
		ApprovalURL: approvalURL,
	}, nil
}

// CaptureOrder captures a buyer-approved order. A repeat capture of an
// already-captured order is surfaced as AlreadyCaptured=true with the
// existing capture reference recovered from the order details, so callers
// can treat it as an idempotent no-op rather than a failure.
func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderToken string) (*CaptureResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	capture, err := g.client.CaptureOrder(ctx, orderToken, paypal.CaptureOrderRequest{})
	if err != nil {
		classified, alreadyCaptured := classify("capture-order", err)
		if !alreadyCaptured {
			return nil, classified
		}
		return g.recoverExistingCapture(ctx, orderToken)
	}

	return &CaptureResult{
		CaptureID: firstCaptureID(capture.PurchaseUnits),
		Status:    capture.Status,
	}, nil
}

// RefundCapture refunds a completed capture in full.
func (g *PayPalGateway) RefundCapture(ctx context.Context, captureID string) (*RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	refund, err := g.client.RefundCapture(ctx, captureID, paypal.RefundCaptureRequest{})
	if err != nil {
		classified, _ := classify("refund-capture", err)
		return nil, classified
	}

	return &RefundResult{
		RefundID: refund.ID,
		Status:   refund.Status,
	}, nil
}

// recoverExistingCapture reads the order back to find the capture that a
// previous (possibly raced) call already made.
func (g *PayPalGateway) recoverExistingCapture(ctx context.Context, orderToken string) (*CaptureResult, error) {
	order, err := g.client.GetOrder(ctx, orderToken)
	if err != nil {
		classified, _ := classify("get-order", err)
		return nil, classified
	}

	res := &CaptureResult{
		Status:          order.Status,
		AlreadyCaptured: true,
	}
	for _, pu := range order.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, c := range pu.Payments.Captures {
			res.CaptureID = c.ID
			return res, nil
		}
	}
	// order reports captured but details carry no capture id; callers keep
	// whatever reference the ledger already holds
	log.Printf("order %s already captured but no capture id in details", orderToken)
	return res, nil
}

func approvalLink(links []paypal.Link) string {
	for _, link := range links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}

func firstCaptureID(units []paypal.CapturedPurchaseUnit) string {
	for _, pu := range units {
		if pu.Payments == nil {
			continue
		}
		for _, c := range pu.Payments.Captures {
			return c.ID
		}
	}
	return ""
}

// minorUnitsToValue renders cents as the two-decimal string the API expects.
func minorUnitsToValue(amount int64) string {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).StringFixed(2)
}
