// Package carrier is a client for the Royal Mail Click & Drop order API.
package carrier

import (
	"time"
)

// Package formats accepted by the carrier.
const (
	FormatSmallParcel  = "smallParcel"
	FormatMediumParcel = "mediumParcel"
)

// MediumParcelThresholdGrams is the weight above which a medium parcel is required.
const MediumParcelThresholdGrams = 2000

// MaxReferenceLength is the longest order reference the carrier stores.
const MaxReferenceLength = 40

// Order is a carrier order as returned by the full orders listing.
type Order struct {
	OrderIdentifier int64      `json:"orderIdentifier"`
	OrderReference  string     `json:"orderReference"`
	CreatedOn       *time.Time `json:"createdOn,omitempty"`
	OrderDate       *time.Time `json:"orderDate,omitempty"`
	PrintedOn       *time.Time `json:"printedOn,omitempty"`
	ManifestedOn    *time.Time `json:"manifestedOn,omitempty"`
	ShippedOn       *time.Time `json:"shippedOn,omitempty"`
	TrackingNumber  string     `json:"trackingNumber,omitempty"`
}

// Address is a postal address.
type Address struct {
	FullName     string `json:"fullName"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	Postcode     string `json:"postcode"`
	CountryCode  string `json:"countryCode"`
}

// Recipient is the consignee of an order.
type Recipient struct {
	Address      Address `json:"address"`
	PhoneNumber  string  `json:"phoneNumber,omitempty"`
	EmailAddress string  `json:"emailAddress,omitempty"`
}

// Content is a line within a package, including customs data.
type Content struct {
	Name               string  `json:"name"`
	SKU                string  `json:"SKU"`
	Quantity           int     `json:"quantity"`
	UnitValue          float64 `json:"unitValue"`
	UnitWeightInGrams  int     `json:"unitWeightInGrams"`
	CustomsDescription string  `json:"customsDescription,omitempty"`
	CustomsCode        string  `json:"customsCode,omitempty"`
	OriginCountryCode  string  `json:"originCountryCode,omitempty"`
}

// Package is one parcel of an order.
type Package struct {
	WeightInGrams           int       `json:"weightInGrams"`
	PackageFormatIdentifier string    `json:"packageFormatIdentifier"`
	Contents                []Content `json:"contents"`
}

// NewOrder is an order to create.
type NewOrder struct {
	OrderReference      string    `json:"orderReference"`
	Recipient           Recipient `json:"recipient"`
	OrderDate           time.Time `json:"orderDate"`
	Subtotal            float64   `json:"subtotal"`
	ShippingCostCharged float64   `json:"shippingCostCharged"`
	Total               float64   `json:"total"`
	CurrencyCode        string    `json:"currencyCode"`
	Packages            []Package `json:"packages"`
}

// CreatedOrder is the carrier's acknowledgement of a created order.
type CreatedOrder struct {
	OrderIdentifier int64  `json:"orderIdentifier"`
	OrderReference  string `json:"orderReference"`
}

// PackageItem is the weight input of a package format decision.
type PackageItem struct {
	WeightGrams    int
	Quantity       int
	FormatOverride *string
}

// TotalWeight sums item weight times quantity.
func TotalWeight(items []PackageItem) int {
	total := 0
	for _, it := range items {
		total += it.WeightGrams * it.Quantity
	}
	return total
}

// PackageFormat picks mediumParcel when the total weight exceeds the threshold or
// any item requires it; otherwise smallParcel.
func PackageFormat(items []PackageItem) string {
	if TotalWeight(items) > MediumParcelThresholdGrams {
		return FormatMediumParcel
	}
	for _, it := range items {
		if it.FormatOverride != nil && *it.FormatOverride == FormatMediumParcel {
			return FormatMediumParcel
		}
	}
	return FormatSmallParcel
}

// TruncateReference shortens an id to the carrier's reference length.
func TruncateReference(id string) string {
	if len(id) <= MaxReferenceLength {
		return id
	}
	return id[:MaxReferenceLength]
}
