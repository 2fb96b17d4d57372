package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/thisshopissogay/shop/internal/platform/cache"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
)

const (
	defaultFeaturedLimit = 8
	maxFeaturedLimit     = 50
)

// Service exposes cached catalog reads and admin writes.
type Service struct {
	repo   Repository
	cache  *cache.JSONCache
	syncer Syncer
	logger *slog.Logger
}

// NewService wires the catalog service. cache and syncer may be nil.
func NewService(repo Repository, c *cache.JSONCache, syncer Syncer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: c, syncer: syncer, logger: logger}
}

// ListProducts returns products matching the filter.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	parts := []string{"products", strconv.FormatBool(filter.IncludeInactive)}
	if filter.CategoryID != nil {
		parts = append(parts, "c"+strconv.FormatInt(*filter.CategoryID, 10))
	}
	if filter.TagID != nil {
		parts = append(parts, "t"+strconv.FormatInt(*filter.TagID, 10))
	}
	var out []Product
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListProducts(ctx, filter)
	}, parts...)
	return out, err
}

// GetProduct returns one product by SKU.
func (s *Service) GetProduct(ctx context.Context, sku int64) (Product, error) {
	if sku <= 0 {
		return Product{}, fmt.Errorf("%w: invalid sku", httpx.ErrValidation)
	}
	var out Product
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.GetProduct(ctx, sku)
	}, "product", strconv.FormatInt(sku, 10))
	return out, err
}

// ProductsBySKU returns authoritative rows for the given SKUs, bypassing the cache.
func (s *Service) ProductsBySKU(ctx context.Context, skus []int64) ([]Product, error) {
	return s.repo.ProductsBySKU(ctx, skus)
}

// Search runs the full text search procedure.
func (s *Service) Search(ctx context.Context, query string) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Product{}, nil
	}
	var out []Product
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.SearchProducts(ctx, query)
	}, "search", strings.ToLower(query))
	return out, err
}

// Featured returns the featured product selection.
func (s *Service) Featured(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = defaultFeaturedLimit
	}
	if limit > maxFeaturedLimit {
		limit = maxFeaturedLimit
	}
	var out []Product
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.FeaturedProducts(ctx, limit)
	}, "featured", strconv.Itoa(limit))
	return out, err
}

// Categories lists categories.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListCategories(ctx)
	}, "categories")
	return out, err
}

// Tags lists tags.
func (s *Service) Tags(ctx context.Context) ([]Tag, error) {
	var out []Tag
	err := s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return s.repo.ListTags(ctx)
	}, "tags")
	return out, err
}

// CreateProduct stores a product and pushes it to the payment vendor.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (Product, error) {
	if !req.Price.IsPositive() {
		return Product{}, fmt.Errorf("%w: price must be positive", httpx.ErrValidation)
	}
	if err := s.repo.CreateProduct(ctx, req); err != nil {
		return Product{}, err
	}
	return s.afterWrite(ctx, req.SKU)
}

// UpdateProduct applies a partial update and re-syncs the vendor copy.
func (s *Service) UpdateProduct(ctx context.Context, sku int64, req UpdateProductRequest) (Product, error) {
	if sku <= 0 {
		return Product{}, fmt.Errorf("%w: invalid sku", httpx.ErrValidation)
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return Product{}, fmt.Errorf("%w: price must be positive", httpx.ErrValidation)
	}
	if err := s.repo.UpdateProduct(ctx, sku, req); err != nil {
		return Product{}, err
	}
	return s.afterWrite(ctx, sku)
}

// SetProductTags replaces a product's tags.
func (s *Service) SetProductTags(ctx context.Context, sku int64, tagIDs []int64) (Product, error) {
	if err := s.repo.SetProductTags(ctx, sku, tagIDs); err != nil {
		return Product{}, err
	}
	s.invalidate(ctx)
	return s.repo.GetProduct(ctx, sku)
}

// CreateCategory stores a category.
func (s *Service) CreateCategory(ctx context.Context, req CreateCategoryRequest) (Category, error) {
	c, err := s.repo.CreateCategory(ctx, req)
	if err != nil {
		return Category{}, err
	}
	s.invalidate(ctx)
	return c, nil
}

// CreateTag stores a tag.
func (s *Service) CreateTag(ctx context.Context, req CreateTagRequest) (Tag, error) {
	t, err := s.repo.CreateTag(ctx, req)
	if err != nil {
		return Tag{}, err
	}
	s.invalidate(ctx)
	return t, nil
}

// Invalidate drops every cached catalog projection.
func (s *Service) Invalidate(ctx context.Context) {
	s.invalidate(ctx)
}

// afterWrite syncs the vendor copy. A sync failure keeps the local row; the next
// update retries the sync.
func (s *Service) afterWrite(ctx context.Context, sku int64) (Product, error) {
	s.invalidate(ctx)
	product, err := s.repo.GetProduct(ctx, sku)
	if err != nil {
		return Product{}, err
	}
	if s.syncer == nil {
		return product, nil
	}
	ref, err := s.syncer.SyncProduct(ctx, product)
	if err != nil {
		s.logger.Warn("catalog sync product", slog.Int64("sku", sku), slog.Any("error", err))
		return product, nil
	}
	if err := s.repo.SetExternalRef(ctx, sku, ref); err != nil {
		return Product{}, err
	}
	product.StripeProductID = &ref.ProductID
	product.StripePriceID = &ref.PriceID
	return product, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("catalog cache bump", slog.Any("error", err))
	}
}

func (s *Service) cached(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.Key(ctx, parts...)
	if err != nil {
		s.logger.Warn("catalog cache key", slog.Any("error", err))
		return loadDirect(ctx, dest, loader)
	}
	return s.cache.Fetch(ctx, key, dest, loader)
}

func loadDirect(ctx context.Context, dest any, loader func(context.Context) (any, error)) error {
	return (*cache.JSONCache)(nil).Fetch(ctx, "", dest, loader)
}
