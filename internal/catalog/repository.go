package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thisshopissogay/shop/internal/platform/db"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

// Repository abstracts catalog persistence.
type Repository interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	GetProduct(ctx context.Context, sku int64) (Product, error)
	ProductsBySKU(ctx context.Context, skus []int64) ([]Product, error)
	SearchProducts(ctx context.Context, query string) ([]Product, error)
	FeaturedProducts(ctx context.Context, limit int) ([]Product, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListTags(ctx context.Context) ([]Tag, error)
	CreateProduct(ctx context.Context, req CreateProductRequest) error
	UpdateProduct(ctx context.Context, sku int64, req UpdateProductRequest) error
	SetExternalRef(ctx context.Context, sku int64, ref ExternalRef) error
	CreateCategory(ctx context.Context, req CreateCategoryRequest) (Category, error)
	CreateTag(ctx context.Context, req CreateTagRequest) (Tag, error)
	SetProductTags(ctx context.Context, sku int64, tagIDs []int64) error
}

const productColumns = `p.sku, p.name, COALESCE(p.description, ''), p.price, p.stock, p.active, p.weight,
	COALESCE(p.customs_description, ''), COALESCE(p.customs_code, ''), COALESCE(p.origin_country, ''),
	p.category_id, p.group_name, p.package_format_override, p.stripe_product_id, p.stripe_price_id`

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE 1=1`
	args := []any{}
	if !filter.IncludeInactive {
		query += ` AND p.active`
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		query += ` AND p.category_id = $` + strconv.Itoa(len(args))
	}
	if filter.TagID != nil {
		args = append(args, *filter.TagID)
		query += ` AND EXISTS (SELECT 1 FROM product_tags pt WHERE pt.product_sku = p.sku AND pt.tag_id = $` + strconv.Itoa(len(args)) + `)`
	}
	query += ` ORDER BY p.group_name NULLS LAST, p.sku`
	return r.queryProducts(ctx, query, args...)
}

func (r *repository) GetProduct(ctx context.Context, sku int64) (Product, error) {
	products, err := r.queryProducts(ctx, `SELECT `+productColumns+` FROM products p WHERE p.sku = $1`, sku)
	if err != nil {
		return Product{}, err
	}
	if len(products) == 0 {
		return Product{}, fmt.Errorf("%w: product %d: %w", httpx.ErrNotFound, sku, ErrNotFound)
	}
	return products[0], nil
}

func (r *repository) ProductsBySKU(ctx context.Context, skus []int64) ([]Product, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM products p WHERE p.sku = ANY($1) ORDER BY p.sku`, skus)
}

func (r *repository) SearchProducts(ctx context.Context, query string) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM search_products($1) p WHERE p.active`, query)
}

func (r *repository) FeaturedProducts(ctx context.Context, limit int) ([]Product, error) {
	return r.queryProducts(ctx, `SELECT `+productColumns+` FROM get_featured_products($1) p`, limit)
}

func (r *repository) queryProducts(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("catalog: scan products: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}
	if err := r.attachRelations(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(
		&p.SKU, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Active, &p.WeightGrams,
		&p.CustomsDescription, &p.CustomsCode, &p.OriginCountry,
		&p.CategoryID, &p.GroupName, &p.PackageFormatOverride, &p.StripeProductID, &p.StripePriceID,
	)
	p.Images = []Image{}
	p.Tags = []Tag{}
	return p, err
}

func (r *repository) attachRelations(ctx context.Context, products []Product) error {
	skus := make([]int64, len(products))
	index := make(map[int64]int, len(products))
	for i, p := range products {
		skus[i] = p.SKU
		index[p.SKU] = i
	}

	rows, err := r.db.Query(ctx, `SELECT id::text, filename, display_order, is_global, is_representative, is_icon, product_sku
		FROM product_images WHERE product_sku = ANY($1) ORDER BY display_order, filename`, skus)
	if err != nil {
		return fmt.Errorf("catalog: query images: %w", err)
	}
	images, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Image, error) {
		var img Image
		err := row.Scan(&img.ID, &img.Filename, &img.DisplayOrder, &img.Global, &img.Representative, &img.Icon, &img.ProductSKU)
		return img, err
	})
	if err != nil {
		return fmt.Errorf("catalog: scan images: %w", err)
	}
	for _, img := range images {
		if i, ok := index[img.ProductSKU]; ok {
			products[i].Images = append(products[i].Images, img)
		}
	}

	rows, err = r.db.Query(ctx, `SELECT pt.product_sku, t.id, t.name FROM product_tags pt
		JOIN tags t ON t.id = pt.tag_id WHERE pt.product_sku = ANY($1) ORDER BY t.name`, skus)
	if err != nil {
		return fmt.Errorf("catalog: query tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sku int64
			tag Tag
		)
		if err := rows.Scan(&sku, &tag.ID, &tag.Name); err != nil {
			return fmt.Errorf("catalog: scan tags: %w", err)
		}
		if i, ok := index[sku]; ok {
			products[i].Tags = append(products[i].Tags, tag)
		}
	}
	return rows.Err()
}

func (r *repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, COALESCE(description, '') FROM product_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: query categories: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name, &c.Description)
		return c, err
	})
}

func (r *repository) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("catalog: query tags: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Tag, error) {
		var t Tag
		err := row.Scan(&t.ID, &t.Name)
		return t, err
	})
}

func (r *repository) CreateProduct(ctx context.Context, req CreateProductRequest) error {
	_, err := r.db.Exec(ctx, `INSERT INTO products
		(sku, name, description, price, stock, active, weight, customs_description, customs_code, origin_country,
		 category_id, group_name, package_format_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		req.SKU, req.Name, req.Description, req.Price, req.Stock, req.Active, req.WeightGrams,
		req.CustomsDescription, req.CustomsCode, req.OriginCountry, req.CategoryID, req.GroupName, req.PackageFormatOverride)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: product %d", httpx.ErrDuplicate, req.SKU)
		}
		return fmt.Errorf("catalog: insert product: %w", err)
	}
	return nil
}

func (r *repository) UpdateProduct(ctx context.Context, sku int64, req UpdateProductRequest) error {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Price != nil {
		add("price", *req.Price)
	}
	if req.Stock != nil {
		add("stock", *req.Stock)
	}
	if req.Active != nil {
		add("active", *req.Active)
	}
	if req.WeightGrams != nil {
		add("weight", *req.WeightGrams)
	}
	if req.CustomsDescription != nil {
		add("customs_description", *req.CustomsDescription)
	}
	if req.CustomsCode != nil {
		add("customs_code", *req.CustomsCode)
	}
	if req.OriginCountry != nil {
		add("origin_country", *req.OriginCountry)
	}
	if req.CategoryID != nil {
		add("category_id", *req.CategoryID)
	}
	if req.GroupName != nil {
		add("group_name", *req.GroupName)
	}
	if req.PackageFormatOverride != nil {
		add("package_format_override", *req.PackageFormatOverride)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sku)
	query := `UPDATE products SET ` + strings.Join(sets, ", ") + ` WHERE sku = $` + strconv.Itoa(len(args))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("catalog: update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %d: %w", httpx.ErrNotFound, sku, ErrNotFound)
	}
	return nil
}

func (r *repository) SetExternalRef(ctx context.Context, sku int64, ref ExternalRef) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET stripe_product_id = $1, stripe_price_id = $2 WHERE sku = $3`, ref.ProductID, ref.PriceID, sku)
	if err != nil {
		return fmt.Errorf("catalog: set external ref: %w", err)
	}
	return nil
}

func (r *repository) CreateCategory(ctx context.Context, req CreateCategoryRequest) (Category, error) {
	c := Category{Name: req.Name, Description: req.Description}
	err := r.db.QueryRow(ctx, `INSERT INTO product_categories (name, description) VALUES ($1, $2) RETURNING id`, req.Name, req.Description).Scan(&c.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Category{}, fmt.Errorf("%w: category %q", httpx.ErrDuplicate, req.Name)
		}
		return Category{}, fmt.Errorf("catalog: insert category: %w", err)
	}
	return c, nil
}

func (r *repository) CreateTag(ctx context.Context, req CreateTagRequest) (Tag, error) {
	t := Tag{Name: req.Name}
	err := r.db.QueryRow(ctx, `INSERT INTO tags (name) VALUES ($1) RETURNING id`, req.Name).Scan(&t.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Tag{}, fmt.Errorf("%w: tag %q", httpx.ErrDuplicate, req.Name)
		}
		return Tag{}, fmt.Errorf("catalog: insert tag: %w", err)
	}
	return t, nil
}

func (r *repository) SetProductTags(ctx context.Context, sku int64, tagIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM product_tags WHERE product_sku = $1`, sku); err != nil {
			return fmt.Errorf("catalog: clear tags: %w", err)
		}
		for _, id := range tagIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO product_tags (product_sku, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, sku, id); err != nil {
				if db.IsForeignKeyViolation(err) {
					return fmt.Errorf("%w: product %d or tag %d: %w", httpx.ErrNotFound, sku, id, ErrNotFound)
				}
				return fmt.Errorf("catalog: insert tag %d: %w", id, err)
			}
		}
		return nil
	})
}
