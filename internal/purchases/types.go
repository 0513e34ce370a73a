package purchases

// Buyer is the authenticated identity supplied by the upstream auth layer.
type Buyer struct {
	UserID string
	Email  string
}

// InitiateInput describes the purchase the buyer wants to start.
type InitiateInput struct {
	ProductID     string
	PaymentMethod string
	PlatformType  string
}

// InitiateResult carries what the browser needs to continue checkout.
type InitiateResult struct {
	OrderToken  string `json:"order_token"`
	ApprovalURL string `json:"approval_url"`
}

// ReconcileMessage is the payload escalated to the reconciliation queue when
// the post-capture ledger write exhausts its inline retries. The worker
// re-drives the write with these same inputs until it lands.
type ReconcileMessage struct {
	OrderToken    string `json:"order_token"`
	CaptureID     string `json:"capture_id"`
	CaptureStatus string `json:"capture_status"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
