package images

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thisshopissogay/shop/internal/catalog"
	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// Repository persists product image associations.
type Repository interface {
	InsertImage(ctx context.Context, img catalog.Image) (catalog.Image, error)
	DeleteByFilename(ctx context.Context, filename string) (int64, error)
}

type repository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

// InsertImage appends the image after the product's current last image.
func (r *repository) InsertImage(ctx context.Context, img catalog.Image) (catalog.Image, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO product_images
		(id, filename, display_order, is_global, is_representative, is_icon, product_sku)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(display_order), -1) + 1 FROM product_images WHERE product_sku = $6),
			$3, $4, $5, $6)
		RETURNING display_order`,
		img.ID, img.Filename, img.Global, img.Representative, img.Icon, img.ProductSKU)
	if err := row.Scan(&img.DisplayOrder); err != nil {
		if db.IsForeignKeyViolation(err) {
			return catalog.Image{}, fmt.Errorf("%w: product %d", httpx.ErrNotFound, img.ProductSKU)
		}
		return catalog.Image{}, fmt.Errorf("images: insert image: %w", err)
	}
	return img, nil
}

// DeleteByFilename drops associations of a removed object.
func (r *repository) DeleteByFilename(ctx context.Context, filename string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM product_images WHERE filename = $1`, filename)
	if err != nil {
		return 0, fmt.Errorf("images: delete image rows: %w", err)
	}
	return tag.RowsAffected(), nil
}
