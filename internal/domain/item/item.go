package item

import (
	"context"
	"errors"
	"time"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrInvalidStock = errors.New("stock must be positive")
)

// Item is a sellable unit. Stock never exceeds TotalStock: it decreases
// only through successful allocation and increases only through
// reclamation, both inside the fairness store.
type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Price        int64     `json:"price"` // minor currency units
	TotalStock   int64     `json:"total_stock"`
	SalesStartAt time.Time `json:"sales_start_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// OnSale reports whether the item's availability window has opened.
func (i Item) OnSale(now time.Time) bool {
	return !now.Before(i.SalesStartAt)
}

// CatalogReader is the read-only catalog collaborator consumed by the
// admission path.
type CatalogReader interface {
	GetItem(ctx context.Context, id string) (Item, error)
}
