package shared

// Storefront permissions checked by the auth gate.
const (
	PermCatalogEdit   = "catalog.edit"
	PermImagesUpload  = "images.upload"
	PermOrdersView    = "orders.view"
	PermOrdersFulfil  = "orders.fulfil"
	PermReportsView   = "reports.view"
	PermReportsCreate = "reports.create"
)

// StorefrontScopes lists every permission the storefront understands.
func StorefrontScopes() []string {
	return []string{
		PermCatalogEdit,
		PermImagesUpload,
		PermOrdersView,
		PermOrdersFulfil,
		PermReportsView,
		PermReportsCreate,
	}
}
