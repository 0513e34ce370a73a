package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/linguadesk/lessonpay/internal/aws"
	"github.com/linguadesk/lessonpay/internal/catalog"
	"github.com/linguadesk/lessonpay/internal/gateway"
	"github.com/linguadesk/lessonpay/internal/ledger"
	"github.com/linguadesk/lessonpay/internal/purchases"
	"github.com/linguadesk/lessonpay/internal/validation"
)

// HandlerConfig groups dependencies for the purchase routes.
type HandlerConfig struct {
	DynamoDBClient    aws.DynamoDBAPI
	SQSClient         aws.SQSAPI
	CloudWatchClient  aws.CloudWatchAPI
	Gateway           gateway.Gateway
	Products          catalog.Source
	LedgerTable       string
	ReconcileQueueURL string
	BaseURL           string // public base URL for the return-flow redirects
}

// RegisterPurchaseRoutes registers the purchase and reconciliation API.
func RegisterPurchaseRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	store := ledger.NewStore(cfg.DynamoDBClient, cfg.LedgerTable)
	publisher := aws.NewPublisher(cfg.SQSClient, cfg.ReconcileQueueURL)
	metrics := aws.NewMetrics(cfg.CloudWatchClient)

	svc := purchases.NewService(cfg.Gateway, store, cfg.Products, publisher, metrics)
	svc.SetReturnURLs(cfg.BaseURL+"/payments/return", cfg.BaseURL+"/payments/cancel")

	// POST /orders — create the gateway order and the pending ledger record.
	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		buyer := purchases.Buyer{
			UserID: c.GetHeader("X-User-Id"),
			Email:  c.GetHeader("X-User-Email"),
		}
		if buyer.UserID == "" || buyer.Email == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_identity"})
			return
		}

		var req validation.CreatePurchaseRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		result, err := svc.InitiatePurchase(ctx, buyer, purchases.InitiateInput{
			ProductID:     req.ProductID,
			PaymentMethod: req.PaymentMethod,
			PlatformType:  req.PlatformType,
		})
		if err != nil {
			writePurchaseError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"data": result})
	})

	// Success-return redirect from checkout. A missing token is a no-op:
	// buyers reach this page via direct link, back button, or reload.
	r.GET("/payments/return", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusOK, gin.H{"status": "no_active_order"})
			return
		}
		completePurchase(c, svc, token)
	})

	// Cancel-return redirect from checkout. Missing token is a no-op.
	r.GET("/payments/cancel", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusOK, gin.H{"status": "no_active_order"})
			return
		}
		if _, err := svc.CancelPurchase(c.Request.Context(), token); err != nil {
			writePurchaseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	})

	// POST /orders/:token/capture — capture plus ledger transition as one
	// server-side operation.
	r.POST("/orders/:token/capture", func(c *gin.Context) {
		completePurchase(c, svc, c.Param("token"))
	})

	// DELETE /purchase-history/:token — cancel/delete a pending record.
	// 204 covers the idempotent already-gone case.
	r.DELETE("/purchase-history/:token", func(c *gin.Context) {
		if _, err := svc.CancelPurchase(c.Request.Context(), c.Param("token")); err != nil {
			writePurchaseError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// PATCH /purchase-history/:id/payment-status — admin override.
	r.PATCH("/purchase-history/:id/payment-status", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.UpdatePaymentStatusRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		rec, err := store.FindByID(ctx, c.Param("id"))
		if err != nil {
			writePurchaseError(c, err)
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "purchase_not_found"})
			return
		}

		updated, err := store.SetStatusByToken(ctx, rec.OrderToken, req.PaymentStatus)
		if err != nil {
			writePurchaseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": updated})
	})

	// POST /payments/captures/:captureId/refund — refund by capture reference.
	r.POST("/payments/captures/:captureId/refund", func(c *gin.Context) {
		rec, err := svc.RefundByCaptureID(c.Request.Context(), c.Param("captureId"))
		if err != nil {
			writePurchaseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": rec})
	})

	// GET /purchase-history — paginated ledger listing for the admin UI.
	r.GET("/purchase-history", func(c *gin.Context) {
		filters := ledger.ListFilters{
			PaymentStatus: c.Query("payment_status"),
			PurchaseDate:  c.Query("purchase_date"),
			Search:        c.Query("search"),
		}
		limit := cast.ToInt(c.DefaultQuery("limit", "20"))
		offset := cast.ToInt(c.DefaultQuery("offset", "0"))

		records, total, err := svc.ListHistory(c.Request.Context(), filters, limit, offset)
		if err != nil {
			writePurchaseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":   records,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	})
}

// completePurchase runs the capture-and-record operation and maps its
// outcomes. The success response is written only after the durable ledger
// write; the escalated case is reported as still-processing, never as a
// generic failure, because the buyer has been charged.
func completePurchase(c *gin.Context, svc *purchases.Service, token string) {
	rec, err := svc.CompletePurchase(c.Request.Context(), token)
	if errors.Is(err, purchases.ErrReconcilePending) {
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "processing",
			"message": "payment captured; purchase record is being reconciled",
		})
		return
	}
	if err != nil {
		writePurchaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": rec.PaymentStatus, "data": rec})
}

func writePurchaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, purchases.ErrProductNotFound), errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, purchases.ErrProductNotPurchasable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case gateway.IsRejected(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case gateway.IsTransient(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
