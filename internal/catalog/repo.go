package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrRating    = errors.New("rating must be between 1 and 5")
	ErrQuantity  = errors.New("quantity must be positive")
)

type Repo struct{ DB *pgxpool.Pool }

type ProductFilter struct {
	CategoryID string
	ActiveOnly bool
}

const productCols = `id, name, description, price, qnt, category_id, COALESCE(image_url, ''), created_at, is_active`

func (r *Repo) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	q := `SELECT ` + productCols + ` FROM products`
	var args []any
	var where []string
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		where = append(where, fmt.Sprintf("category_id=$%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "is_active")
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	return scanProduct(r.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
}

func (r *Repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.ID = uuid.NewString()
	return scanProduct(r.DB.QueryRow(ctx, `
		INSERT INTO products(id, name, description, price, qnt, category_id, image_url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING `+productCols,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.CategoryID, p.ImageURL, p.IsActive))
}

// Restock is the external restock path: the only stock increase that is not a
// reservation reversal.
func (r *Repo) Restock(ctx context.Context, productID string, qty int) (Product, error) {
	if qty <= 0 {
		return Product{}, ErrQuantity
	}
	return scanProduct(r.DB.QueryRow(ctx, `
		UPDATE products SET qnt = qnt + $2 WHERE id=$1
		RETURNING `+productCols, productID, qty))
}

func (r *Repo) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, parent_id FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) CreateCategory(ctx context.Context, name string, parentID *string) (Category, error) {
	c := Category{ID: uuid.NewString(), Name: name, ParentID: parentID}
	_, err := r.DB.Exec(ctx, `INSERT INTO categories(id, name, parent_id) VALUES ($1, $2, $3)`,
		c.ID, c.Name, c.ParentID)
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

func (r *Repo) ListReviews(ctx context.Context, productID string) ([]Review, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, user_id, product_id, COALESCE(title, ''), rating, COALESCE(comment, ''), created_at, verified_purchase
		FROM reviews WHERE product_id=$1 ORDER BY created_at DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.ProductID, &rv.Title, &rv.Rating, &rv.Comment, &rv.CreatedAt, &rv.VerifiedPurchase); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *Repo) CreateReview(ctx context.Context, rv Review) (Review, error) {
	if rv.Rating < 1 || rv.Rating > 5 {
		return Review{}, ErrRating
	}
	if _, err := r.GetProduct(ctx, rv.ProductID); err != nil {
		return Review{}, err
	}

	// verified when the reviewer has the product in a non-cancelled order
	var verified bool
	err := r.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_items oi
			JOIN orders o ON o.id = oi.order_id
			WHERE o.user_id=$1 AND oi.product_id=$2 AND o.status <> 'Cancelled'
		)`, rv.UserID, rv.ProductID).Scan(&verified)
	if err != nil {
		return Review{}, err
	}

	rv.ID = uuid.NewString()
	rv.VerifiedPurchase = verified
	err = r.DB.QueryRow(ctx, `
		INSERT INTO reviews(id, user_id, product_id, title, rating, comment, verified_purchase)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
		RETURNING created_at`,
		rv.ID, rv.UserID, rv.ProductID, rv.Title, rv.Rating, rv.Comment, rv.VerifiedPurchase).
		Scan(&rv.CreatedAt)
	if err != nil {
		return Review{}, err
	}
	return rv, nil
}

// WishlistOf returns the user's wishlist, creating an empty one on first use.
func (r *Repo) WishlistOf(ctx context.Context, userID string) (Wishlist, error) {
	if _, err := r.DB.Exec(ctx, `
		INSERT INTO wishlists(id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, uuid.NewString(), userID); err != nil {
		return Wishlist{}, err
	}

	var w Wishlist
	if err := r.DB.QueryRow(ctx, `SELECT id, user_id FROM wishlists WHERE user_id=$1`, userID).
		Scan(&w.ID, &w.UserID); err != nil {
		return Wishlist{}, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, product_id, added_at FROM wishlist_items
		WHERE wishlist_id=$1 ORDER BY added_at`, w.ID)
	if err != nil {
		return Wishlist{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it WishlistItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.AddedAt); err != nil {
			return Wishlist{}, err
		}
		w.Items = append(w.Items, it)
	}
	return w, rows.Err()
}

func (r *Repo) AddWishlistItem(ctx context.Context, userID, productID string) error {
	if _, err := r.GetProduct(ctx, productID); err != nil {
		return err
	}
	w, err := r.WishlistOf(ctx, userID)
	if err != nil {
		return err
	}
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO wishlist_items(id, wishlist_id, product_id) VALUES ($1, $2, $3)
		ON CONFLICT (wishlist_id, product_id) DO NOTHING`,
		uuid.NewString(), w.ID, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *Repo) RemoveWishlistItem(ctx context.Context, userID, productID string) error {
	w, err := r.WishlistOf(ctx, userID)
	if err != nil {
		return err
	}
	ct, err := r.DB.Exec(ctx, `DELETE FROM wishlist_items WHERE wishlist_id=$1 AND product_id=$2`, w.ID, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CategoryID, &p.ImageURL, &p.CreatedAt, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	return p, nil
}
