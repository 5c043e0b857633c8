package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/fitting-room-service/internal/model"
)

// ProductRepo reads the immutable products catalogue.
type ProductRepo struct {
	db *sql.DB
}

// NewProductRepo returns a new ProductRepo bound to the provided database.
func NewProductRepo(db *sql.DB) *ProductRepo { return &ProductRepo{db: db} }

// GetBySKUTx fetches a product by SKU.
func (r *ProductRepo) GetBySKUTx(ctx context.Context, tx *sql.Tx, sku string) (model.Product, error) {
	var p model.Product
	err := tx.QueryRowContext(ctx,
		`SELECT id, sku, name, size, color FROM products WHERE sku = ?`, sku).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Size, &p.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	return p, err
}
