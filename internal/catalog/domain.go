// Package catalog serves product, category and tag projections and the admin
// edits that keep them in sync with the payment vendor's catalog.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Product is a sellable item keyed by SKU.
type Product struct {
	SKU                   int64           `json:"sku"`
	Name                  string          `json:"name"`
	Description           string          `json:"description"`
	Price                 decimal.Decimal `json:"price"`
	Stock                 int             `json:"stock"`
	Active                bool            `json:"active"`
	WeightGrams           int             `json:"weight"`
	CustomsDescription    string          `json:"customsDescription,omitempty"`
	CustomsCode           string          `json:"customsCode,omitempty"`
	OriginCountry         string          `json:"originCountry,omitempty"`
	CategoryID            *int64          `json:"categoryId,omitempty"`
	GroupName             *string         `json:"groupName,omitempty"`
	PackageFormatOverride *string         `json:"packageFormatOverride,omitempty"`
	StripeProductID       *string         `json:"-"`
	StripePriceID         *string         `json:"-"`
	Images                []Image         `json:"images"`
	Tags                  []Tag           `json:"tags"`
}

// Image is a product image association row.
type Image struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	DisplayOrder   int    `json:"displayOrder"`
	Global         bool   `json:"global"`
	Representative bool   `json:"representative"`
	Icon           bool   `json:"icon"`
	ProductSKU     int64  `json:"productSku"`
}

// Category groups products.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tag labels products.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	CategoryID      *int64
	TagID           *int64
	IncludeInactive bool
}

// CreateProductRequest is the admin create payload.
type CreateProductRequest struct {
	SKU                   int64           `json:"sku" validate:"required,gt=0"`
	Name                  string          `json:"name" validate:"required,max=200"`
	Description           string          `json:"description" validate:"max=5000"`
	Price                 decimal.Decimal `json:"price"`
	Stock                 int             `json:"stock" validate:"gte=0"`
	Active                bool            `json:"active"`
	WeightGrams           int             `json:"weight" validate:"gte=0"`
	CustomsDescription    string          `json:"customsDescription" validate:"max=200"`
	CustomsCode           string          `json:"customsCode" validate:"max=20"`
	OriginCountry         string          `json:"originCountry" validate:"omitempty,len=2"`
	CategoryID            *int64          `json:"categoryId" validate:"omitempty,gt=0"`
	GroupName             *string         `json:"groupName" validate:"omitempty,max=200"`
	PackageFormatOverride *string         `json:"packageFormatOverride" validate:"omitempty,oneof=smallParcel mediumParcel"`
}

// UpdateProductRequest carries only the fields to change. Stock is written only when
// supplied so concurrent order decrements are not overwritten by unrelated edits.
type UpdateProductRequest struct {
	Name                  *string          `json:"name" validate:"omitempty,max=200"`
	Description           *string          `json:"description" validate:"omitempty,max=5000"`
	Price                 *decimal.Decimal `json:"price"`
	Stock                 *int             `json:"stock" validate:"omitempty,gte=0"`
	Active                *bool            `json:"active"`
	WeightGrams           *int             `json:"weight" validate:"omitempty,gte=0"`
	CustomsDescription    *string          `json:"customsDescription" validate:"omitempty,max=200"`
	CustomsCode           *string          `json:"customsCode" validate:"omitempty,max=20"`
	OriginCountry         *string          `json:"originCountry" validate:"omitempty,len=2"`
	CategoryID            *int64           `json:"categoryId" validate:"omitempty,gt=0"`
	GroupName             *string          `json:"groupName" validate:"omitempty,max=200"`
	PackageFormatOverride *string          `json:"packageFormatOverride" validate:"omitempty,oneof=smallParcel mediumParcel"`
}

// CreateCategoryRequest is the admin category payload.
type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

// CreateTagRequest is the admin tag payload.
type CreateTagRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// SetTagsRequest replaces the tags of a product.
type SetTagsRequest struct {
	TagIDs []int64 `json:"tagIds" validate:"dive,gt=0"`
}

// ExternalRef identifies the vendor-side copy of a product.
type ExternalRef struct {
	ProductID string
	PriceID   string
}

// Syncer pushes products to the payment vendor's catalog.
type Syncer interface {
	SyncProduct(ctx context.Context, p Product) (ExternalRef, error)
}

// ErrNotFound indicates a missing catalog row.
var ErrNotFound = errors.New("catalog: not found")
