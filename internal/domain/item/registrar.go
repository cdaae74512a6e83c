package item

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/slot-admission/internal/clock"
)

// CatalogWriter persists new items.
type CatalogWriter interface {
	InsertItem(ctx context.Context, it Item) error
}

// StockSeeder initializes the fairness store counter for an item.
type StockSeeder interface {
	SeedStock(ctx context.Context, itemID string, stock int64) error
}

// Registrar is the registration boundary for the external catalog service:
// it records the item and seeds the allocator's stock counter. Everything
// else about catalog management lives outside this system.
type Registrar struct {
	catalog CatalogWriter
	seeder  StockSeeder
	clock   clock.Clock
}

func NewRegistrar(catalog CatalogWriter, seeder StockSeeder, clk clock.Clock) *Registrar {
	return &Registrar{catalog: catalog, seeder: seeder, clock: clk}
}

type RegisterInput struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	TotalStock   int64  `json:"total_stock"`
	SalesStartAt string `json:"sales_start_at"` // RFC3339; empty means on sale immediately
}

func (r *Registrar) Register(ctx context.Context, in RegisterInput) (Item, error) {
	if in.TotalStock <= 0 {
		return Item{}, ErrInvalidStock
	}

	now := r.clock.Now()
	it := Item{
		ID:           in.ID,
		Name:         in.Name,
		Price:        in.Price,
		TotalStock:   in.TotalStock,
		SalesStartAt: now,
		CreatedAt:    now,
	}
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if in.SalesStartAt != "" {
		start, err := time.Parse(time.RFC3339, in.SalesStartAt)
		if err != nil {
			return Item{}, fmt.Errorf("invalid sales_start_at: %w", err)
		}
		it.SalesStartAt = start.UTC()
	}

	if err := r.catalog.InsertItem(ctx, it); err != nil {
		return Item{}, err
	}
	if err := r.seeder.SeedStock(ctx, it.ID, it.TotalStock); err != nil {
		return Item{}, fmt.Errorf("seeding stock for item %s: %w", it.ID, err)
	}
	return it, nil
}
