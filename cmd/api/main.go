package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/linguadesk/lessonpay/internal/aws"
	"github.com/linguadesk/lessonpay/internal/catalog"
	"github.com/linguadesk/lessonpay/internal/gateway"
	"github.com/linguadesk/lessonpay/internal/handlers"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterPurchaseRoutes(r, cfg)

	return r
}

func main() {
	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	gw, err := gateway.NewPayPalGateway(
		os.Getenv("PAYPAL_CLIENT_ID"),
		os.Getenv("PAYPAL_CLIENT_SECRET"),
		os.Getenv("PAYPAL_ENV"),
	)
	if err != nil {
		log.Fatalf("failed to init payment gateway: %v", err)
	}

	cfg := handlers.HandlerConfig{
		DynamoDBClient:    clients.DynamoDB,
		SQSClient:         clients.SQS,
		CloudWatchClient:  clients.CloudWatch,
		Gateway:           gw,
		Products:          catalog.NewHTTPSource(os.Getenv("CATALOG_URL")),
		LedgerTable:       os.Getenv("LEDGER_TABLE"),
		ReconcileQueueURL: os.Getenv("RECONCILE_QUEUE_URL"),
		BaseURL:           os.Getenv("APP_BASE_URL"),
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
