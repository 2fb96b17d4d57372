package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thisshopissogay/shop/internal/auth"
	"github.com/thisshopissogay/shop/internal/platform/httpx"
	"github.com/thisshopissogay/shop/internal/shared"
)

const searchEventTimeout = 5 * time.Second

// SearchTracker records storefront searches with the analytics collector.
type SearchTracker interface {
	TrackSearch(ctx context.Context, clientID *string, term string) error
}

// Handler serves the catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	auth    auth.Middleware
	tracker SearchTracker
}

// NewHandler builds a catalog Handler. tracker may be nil.
func NewHandler(logger *slog.Logger, service *Service, authz auth.Middleware, tracker SearchTracker) *Handler {
	return &Handler{logger: logger, service: service, auth: authz, tracker: tracker}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/featured", h.featured)
	r.Get("/products/search", h.search)
	r.Get("/products/{sku}", h.getProduct)
	r.Get("/categories", h.listCategories)
	r.Get("/tags", h.listTags)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.RequireRoleOrPermission(auth.RoleManager, shared.PermCatalogEdit))
		r.Post("/products", h.createProduct)
		r.Patch("/products/{sku}", h.updateProduct)
		r.Put("/products/{sku}/tags", h.setTags)
		r.Post("/categories", h.createCategory)
		r.Post("/tags", h.createTag)
	})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	var filter ProductFilter
	var err error
	if filter.CategoryID, err = optionalID(r, "category"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.TagID, err = optionalID(r, "tag"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) featured(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	products, err := h.service.Featured(r.Context(), limit)
	if err != nil {
		h.fail(w, "featured products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	products, err := h.service.Search(r.Context(), term)
	if err != nil {
		h.fail(w, "search products", err)
		return
	}
	h.trackSearch(r, term)
	httpx.JSON(w, http.StatusOK, products)
}

// trackSearch fires the analytics event without holding up the response.
func (h *Handler) trackSearch(r *http.Request, term string) {
	if h.tracker == nil || term == "" {
		return
	}
	var clientID *string
	if id := r.Header.Get("X-GA-Client-ID"); id != "" {
		clientID = &id
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, searchEventTimeout)
		defer cancel()
		if err := h.tracker.TrackSearch(ctx, clientID, term); err != nil {
			h.logger.Warn("catalog track search", slog.Any("error", err))
		}
	}()
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	sku, err := skuParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), sku)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.Categories(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *Handler) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.Tags(r.Context())
	if err != nil {
		h.fail(w, "list tags", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tags)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	sku, err := skuParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateProductRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), sku, req)
	if err != nil {
		h.fail(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) setTags(w http.ResponseWriter, r *http.Request) {
	sku, err := skuParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req SetTagsRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.SetProductTags(r.Context(), sku, req.TagIDs)
	if err != nil {
		h.fail(w, "set product tags", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	category, err := h.service.CreateCategory(r.Context(), req)
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
}

func (h *Handler) createTag(w http.ResponseWriter, r *http.Request) {
	var req CreateTagRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tag, err := h.service.CreateTag(r.Context(), req)
	if err != nil {
		h.fail(w, "create tag", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tag)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("catalog "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func skuParam(r *http.Request) (int64, error) {
	sku, err := strconv.ParseInt(chi.URLParam(r, "sku"), 10, 64)
	if err != nil || sku <= 0 {
		return 0, fmt.Errorf("%w: invalid sku", httpx.ErrValidation)
	}
	return sku, nil
}

func optionalID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name)
	}
	return &id, nil
}
