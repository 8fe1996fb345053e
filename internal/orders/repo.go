package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store and Catalog.
type Repo struct{ DB *pgxpool.Pool }

var (
	_ Store   = (*Repo)(nil)
	_ Catalog = (*Repo)(nil)
)

const orderColumns = `id, owner_id, total_amount, currency, payment_reference, client_secret,
	idempotency_key, status, COALESCE(refund_reason, ''), created_at, updated_at`

// Create inserts the order and its items in one transaction and fills in
// the store-maintained timestamps.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, owner_id, total_amount, currency, payment_reference, client_secret, idempotency_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		o.ID, o.OwnerID, o.TotalAmount, o.Currency, o.PaymentReference, o.ClientSecret, o.IdempotencyKey, string(o.Status),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	for i, it := range o.Items {
		if _, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, i, it.ProductID, it.Quantity, it.UnitPrice,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repo) FindByID(ctx context.Context, id string) (Order, error) {
	return r.findOne(ctx, `WHERE id=$1`, id)
}

func (r *Repo) FindByOwnerAndID(ctx context.Context, ownerID, id string) (Order, error) {
	return r.findOne(ctx, `WHERE id=$1 AND owner_id=$2`, id, ownerID)
}

func (r *Repo) FindByPaymentReference(ctx context.Context, ref string) (Order, error) {
	return r.findOne(ctx, `WHERE payment_reference=$1`, ref)
}

func (r *Repo) FindByIdempotencyKey(ctx context.Context, ownerID, key string) (Order, error) {
	return r.findOne(ctx, `WHERE owner_id=$1 AND idempotency_key=$2`, ownerID, key)
}

func (r *Repo) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStatus is a single conditional UPDATE, so concurrent callers racing
// on the same order see exactly one winner.
func (r *Repo) UpdateStatus(ctx context.Context, id string, expected, next Status, f Fields) (Order, bool, error) {
	if !CanTransition(expected, next) {
		return Order{}, false, fmt.Errorf("illegal transition %s -> %s", expected, next)
	}
	rows, err := r.DB.Query(ctx, `
		UPDATE orders
		SET status=$3, refund_reason=COALESCE($4, refund_reason), updated_at=now()
		WHERE id=$1 AND status=$2
		RETURNING `+orderColumns,
		id, string(expected), string(next), f.RefundReason,
	)
	if err != nil {
		return Order{}, false, err
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, err
	}
	list := []Order{o}
	if err := r.loadItems(ctx, list); err != nil {
		return Order{}, false, err
	}
	return list[0], true, nil
}

func (r *Repo) findOne(ctx context.Context, where string, args ...any) (Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where, args...)
	if err != nil {
		return Order{}, err
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	list := []Order{o}
	if err := r.loadItems(ctx, list); err != nil {
		return Order{}, err
	}
	return list[0], nil
}

func (r *Repo) loadItems(ctx context.Context, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	idx := make(map[string]int, len(list))
	for i := range list {
		ids[i] = list[i].ID
		idx[list[i].ID] = i
		list[i].Items = []Item{}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID string
		var it Item
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		i := idx[orderID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.ID, &o.OwnerID, &o.TotalAmount, &o.Currency, &o.PaymentReference, &o.ClientSecret,
		&o.IdempotencyKey, &status, &o.RefundReason, &o.CreatedAt, &o.UpdatedAt)
	o.Status = Status(status)
	return o, err
}

// ResolveProducts looks up all ids in one query; unknown ids are absent.
func (r *Repo) ResolveProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, name, description, price, image_url, created_at, updated_at
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, description, price, image_url, created_at, updated_at
                                FROM products ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ReplaceProducts deletes the catalog and inserts ps. Existing orders keep
// their price snapshots.
func (r *Repo) ReplaceProducts(ctx context.Context, ps []Product) ([]Product, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM products`); err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(ps))
	for _, p := range ps {
		err := tx.QueryRow(ctx, `
			INSERT INTO products(name, description, price, image_url)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at`,
			p.Name, p.Description, p.Price, p.ImageURL,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, tx.Commit(ctx)
}

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
