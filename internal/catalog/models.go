package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id,omitempty"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  string          `json:"category_id"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	IsActive    bool            `json:"is_active"`
}

type Review struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	ProductID        string    `json:"product_id"`
	Title            string    `json:"title,omitempty"`
	Rating           int       `json:"rating"`
	Comment          string    `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	VerifiedPurchase bool      `json:"verified_purchase"`
}

type Wishlist struct {
	ID     string         `json:"id"`
	UserID string         `json:"user_id"`
	Items  []WishlistItem `json:"items"`
}

type WishlistItem struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	AddedAt   time.Time `json:"added_at"`
}
