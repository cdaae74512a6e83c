package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/slot-admission/internal/domain/item"
)

// Catalog is the relational item catalog. This service only reads it on
// the admission path; InsertItem serves the registration boundary.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) GetItem(ctx context.Context, id string) (item.Item, error) {
	var it item.Item
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, price, total_stock, sales_start_at, created_at
		 FROM items WHERE id = $1`,
		id,
	).Scan(&it.ID, &it.Name, &it.Price, &it.TotalStock, &it.SalesStartAt, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Item{}, item.ErrItemNotFound
	}
	if err != nil {
		return item.Item{}, err
	}
	it.SalesStartAt = it.SalesStartAt.UTC()
	it.CreatedAt = it.CreatedAt.UTC()
	return it, nil
}

func (c *Catalog) InsertItem(ctx context.Context, it item.Item) error {
	if it.TotalStock <= 0 {
		return item.ErrInvalidStock
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO items (id, name, price, total_stock, sales_start_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		it.ID, it.Name, it.Price, it.TotalStock, it.SalesStartAt, it.CreatedAt,
	)
	return err
}

// CountCommittedStock reports ledger-recorded allocations that still hold a
// unit (ACTIVE or COMPLETED), for the pre-check on the admission path.
func (c *Catalog) CountCommittedStock(ctx context.Context, itemID string) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slots WHERE item_id = $1 AND status IN ('ACTIVE', 'COMPLETED')`,
		itemID,
	).Scan(&n)
	return n, err
}
