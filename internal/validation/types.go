package validation

// CreatePurchaseRequest is the payload for POST /orders.
// Buyer identity comes from upstream-auth headers, not the body.
type CreatePurchaseRequest struct {
	ProductID     string `json:"product_id" validate:"required"`                        // main-lesson reference
	PaymentMethod string `json:"payment_method" validate:"required,oneof=paypal"`      // gateway channel
	PlatformType  string `json:"platform_type" validate:"required,oneof=web ios android"`
}

// UpdatePaymentStatusRequest is the payload for the admin status PATCH.
type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" validate:"required,oneof=pending completed refunded"`
}
