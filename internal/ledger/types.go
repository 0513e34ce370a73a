package ledger

import "time"

// Purchase record statuses. The capture's reported status is stored
// lower-cased, so these match what the gateway returns.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusRefunded  = "refunded"
)

// ValidStatus reports whether s is a storable payment status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// PurchaseRecord is the item stored in the purchases DynamoDB table.
// order_token is the partition key; it joins the remote checkout session to
// this local record and is never reassigned. A record exists iff an order
// was created with the gateway and the buyer did not cancel before capture.
type PurchaseRecord struct {
	ID             string    `dynamodbav:"id"`          // local surrogate id
	OrderToken     string    `dynamodbav:"order_token"` // PK
	UserID         string    `dynamodbav:"user_id"`
	UserEmail      string    `dynamodbav:"user_email"`
	ProductID      string    `dynamodbav:"product_id"`             // main-lesson reference
	PurchaseAmount int64     `dynamodbav:"purchase_amount"`        // minor currency units
	Currency       string    `dynamodbav:"currency"`               // ISO code
	PaymentMethod  string    `dynamodbav:"payment_method"`         // e.g. paypal
	PlatformType   string    `dynamodbav:"platform_type"`          // web | ios | android
	PaymentStatus  string    `dynamodbav:"payment_status"`         // pending | completed | refunded
	CaptureID      string    `dynamodbav:"capture_id,omitempty"`   // set on completion; needed for refund
	PurchaseDate   time.Time `dynamodbav:"purchase_date"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
}
