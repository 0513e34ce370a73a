package purchases

import "errors"

var (
	// ErrProductNotFound: the catalog has no such main lesson.
	ErrProductNotFound = errors.New("product not found")

	// ErrProductNotPurchasable: the lesson is free or not published.
	ErrProductNotPurchasable = errors.New("product not purchasable")

	// ErrReconcilePending: the gateway captured the payment but the ledger
	// write did not land within the retry budget. The charge is real; the
	// record update has been escalated to the reconciliation queue.
	ErrReconcilePending = errors.New("capture succeeded; ledger update pending reconciliation")
)
