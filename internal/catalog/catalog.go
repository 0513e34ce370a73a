// Package catalog defines the product-catalog collaborator contract.
// The lesson CRUD system that owns pricing and publish state lives outside
// this service; purchases only need a priced, published main lesson.
package catalog

import "context"

// MainLesson is the purchasable unit as the catalog reports it.
type MainLesson struct {
	ID         string
	Title      string
	PriceCents int64  // 0 means free
	Currency   string // ISO code, defaults to USD upstream
	Published  bool
}

// Source supplies main-lesson pricing and publish state.
// Returns (nil, nil) when the lesson does not exist.
type Source interface {
	MainLesson(ctx context.Context, id string) (*MainLesson, error)
}
