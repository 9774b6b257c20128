package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore implements Store on Postgres. Product rows are serialized with
// SELECT ... FOR UPDATE; the single-pending-per-user rule is held by an
// advisory lock keyed on the user id, since it is not a schema constraint.
type PGStore struct{ DB *pgxpool.Pool }

func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) Order(ctx context.Context, orderID string) (Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return Order{}, err
	}
	o.Items, err = queryItems(ctx, s.DB, orderID)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *PGStore) OrdersOf(ctx context.Context, userID string) ([]Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = queryItems(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) PendingOrderOf(ctx context.Context, userID string) (Order, error) {
	// Serializes find-or-create per user for the rest of the transaction.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID); err != nil {
		return Order{}, err
	}
	return scanOrder(t.tx.QueryRow(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM orders WHERE user_id=$1 AND status='Pending'
		FOR UPDATE`, userID))
}

func (t *pgTx) CreateOrder(ctx context.Context, userID string) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, status) VALUES ($1, $2, 'Pending')
		RETURNING id, user_id, status, created_at, updated_at`,
		uuid.NewString(), userID))
}

func (t *pgTx) OrderForUpdate(ctx context.Context, orderID string) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, orderID))
}

func (t *pgTx) SetOrderStatus(ctx context.Context, orderID string, st Status) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(st))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ProductForUpdate(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, price, qnt, is_active
		FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, productID string, delta int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET qnt = qnt + $2 WHERE id=$1`, productID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ItemByProduct(ctx context.Context, orderID, productID string) (OrderItem, error) {
	return scanItem(t.tx.QueryRow(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id=$1 AND product_id=$2`, orderID, productID))
}

func (t *pgTx) ItemForUpdate(ctx context.Context, itemID string) (OrderItem, error) {
	return scanItem(t.tx.QueryRow(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE id=$1 FOR UPDATE`, itemID))
}

func (t *pgTx) InsertItem(ctx context.Context, orderID, productID string, qty int, price decimal.Decimal) (OrderItem, error) {
	return scanItem(t.tx.QueryRow(ctx, `
		INSERT INTO order_items(id, order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, order_id, product_id, quantity, price`,
		uuid.NewString(), orderID, productID, qty, price))
}

func (t *pgTx) AddItemQuantity(ctx context.Context, itemID string, delta int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE order_items SET quantity = quantity + $2 WHERE id=$1`, itemID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteItem(ctx context.Context, itemID string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE id=$1`, itemID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ItemsOf(ctx context.Context, orderID string) ([]OrderItem, error) {
	return queryItems(ctx, t.tx, orderID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, orderID string) ([]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var st string
	err := row.Scan(&o.ID, &o.UserID, &st, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(st)
	return o, nil
}

func scanItem(row pgx.Row) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderItem{}, ErrNotFound
	}
	if err != nil {
		return OrderItem{}, err
	}
	return it, nil
}
