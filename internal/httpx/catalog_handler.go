package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shopworks/storefront-api/internal/catalog"
)

type CatalogHandler struct {
	Repo *catalog.Repo
}

type CreateProductReq struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  string          `json:"category_id"`
	ImageURL    string          `json:"image_url"`
	IsActive    *bool           `json:"is_active"`
}

type RestockReq struct {
	Quantity int `json:"quantity"`
}

type CreateCategoryReq struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

type CreateReviewReq struct {
	Title   string `json:"title"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type WishlistItemReq struct {
	ProductID string `json:"product_id"`
}

func (h *CatalogHandler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/reviews", h.listReviews)
	r.Get("/categories", h.listCategories)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/products", h.createProduct)
		r.Post("/products/{id}/restock", h.restock)
		r.Post("/categories", h.createCategory)
		r.Post("/products/{id}/reviews", h.createReview)
		r.Get("/wishlist", h.getWishlist)
		r.Post("/wishlist/add", h.addWishlistItem)
		r.Post("/wishlist/remove", h.removeWishlistItem)
	})
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	f := catalog.ProductFilter{
		CategoryID: r.URL.Query().Get("category_id"),
		ActiveOnly: r.URL.Query().Get("active") == "true",
	}
	ps, err := h.Repo.ListProducts(ctx, f)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	if ps == nil {
		ps = []catalog.Product{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Repo.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" || req.CategoryID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Repo.CreateProduct(ctx, catalog.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		CategoryID:  req.CategoryID,
		ImageURL:    req.ImageURL,
		IsActive:    active,
	})
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *CatalogHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Repo.Restock(ctx, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *CatalogHandler) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cs, err := h.Repo.ListCategories(ctx)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	if cs == nil {
		cs = []catalog.Category{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *CatalogHandler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	c, err := h.Repo.CreateCategory(ctx, req.Name, req.ParentID)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CatalogHandler) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rs, err := h.Repo.ListReviews(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	if rs == nil {
		rs = []catalog.Review{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *CatalogHandler) createReview(w http.ResponseWriter, r *http.Request) {
	var req CreateReviewReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rv, err := h.Repo.CreateReview(ctx, catalog.Review{
		UserID:    userFrom(r),
		ProductID: chi.URLParam(r, "id"),
		Title:     req.Title,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *CatalogHandler) getWishlist(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	wl, err := h.Repo.WishlistOf(ctx, userFrom(r))
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	if wl.Items == nil {
		wl.Items = []catalog.WishlistItem{}
	}
	writeJSON(w, http.StatusOK, wl)
}

func (h *CatalogHandler) addWishlistItem(w http.ResponseWriter, r *http.Request) {
	var req WishlistItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Repo.AddWishlistItem(ctx, userFrom(r), req.ProductID); err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"detail": "product added to wishlist"})
}

func (h *CatalogHandler) removeWishlistItem(w http.ResponseWriter, r *http.Request) {
	var req WishlistItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Repo.RemoveWishlistItem(ctx, userFrom(r), req.ProductID); err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "product removed from wishlist"})
}

func writeCatalogErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, catalog.ErrDuplicate):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "already exists"})
	case errors.Is(err, catalog.ErrRating), errors.Is(err, catalog.ErrQuantity):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
