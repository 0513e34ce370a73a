package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"

	"github.com/linguadesk/lessonpay/internal/aws"
	"github.com/linguadesk/lessonpay/internal/ledger"
	"github.com/linguadesk/lessonpay/internal/purchases"
)

// Processor re-drives escalated post-capture ledger writes. Every message on
// the reconciliation queue represents a buyer who has been charged; the
// write is retried until it lands, fails permanently into the DLQ for manual
// review, or turns out to have landed already.
type Processor struct {
	store *ledger.Store
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, ledgerTable string) *Processor {
	return &Processor{
		store: ledger.NewStore(clients.DynamoDB, ledgerTable),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg purchases.ReconcileMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] reconciling order=%s capture=%s", msg.OrderToken, msg.CaptureID)

	updated, err := p.store.MarkCompleted(ctx, msg.OrderToken, msg.CaptureID, msg.CaptureStatus)
	if err == nil {
		log.Printf("[worker] reconciled order=%s status=%s", msg.OrderToken, updated.PaymentStatus)
		return nil
	}

	if errors.Is(err, ledger.ErrConflict) {
		existing, ferr := p.store.FindByToken(ctx, msg.OrderToken)
		if ferr != nil {
			return fmt.Errorf("fetch order=%s after conflict: %w", msg.OrderToken, ferr)
		}
		if existing == nil {
			// charged but no record to update; this needs a human — DLQ it
			return fmt.Errorf("order=%s captured (%s) but no ledger record exists", msg.OrderToken, msg.CaptureID)
		}
		if existing.PaymentStatus == msg.CaptureStatus {
			// a concurrent retry or the original call landed the write
			log.Printf("[worker] order=%s already reconciled", msg.OrderToken)
			return nil
		}
		return fmt.Errorf("order=%s in unexpected status %s", msg.OrderToken, existing.PaymentStatus)
	}

	return fmt.Errorf("reconcile order=%s: %w", msg.OrderToken, err)
}
