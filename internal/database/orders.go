package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, outlet_id, tracking_number, table_name, note, status,
	customer_count, split_from_id, created_at, updated_at`

const lineColumns = `id, order_id, position, product_id, product_name, quantity,
	unit_price_with_tax, is_groupable, preparation_key, combo_group_id, is_combo_parent`

const getOrder = `SELECT ` + orderColumns + `
FROM orders
WHERE id = $1 AND outlet_id = $2`

const getOrderForUpdate = getOrder + `
FOR UPDATE`

type GetOrderParams struct {
	ID       uuid.UUID
	OutletID uuid.UUID
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OutletID,
		&o.TrackingNumber,
		&o.TableName,
		&o.Note,
		&o.Status,
		&o.CustomerCount,
		&o.SplitFromID,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

// GetOrder returns pgx.ErrNoRows when the order is not in the outlet.
func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, arg.ID, arg.OutletID))
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
func (q *Queries) GetOrderForUpdate(ctx context.Context, arg GetOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, arg.ID, arg.OutletID))
}

const listOrderLines = `SELECT ` + lineColumns + `
FROM order_lines
WHERE order_id = $1
ORDER BY position, id`

func (q *Queries) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	rows, err := q.db.Query(ctx, listOrderLines, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(
			&l.ID,
			&l.OrderID,
			&l.Position,
			&l.ProductID,
			&l.ProductName,
			&l.Quantity,
			&l.UnitPriceWithTax,
			&l.IsGroupable,
			&l.PreparationKey,
			&l.ComboGroupID,
			&l.IsComboParent,
		); err != nil {
			return nil, err
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

const listPreparationChanges = `SELECT order_id, preparation_key, product_id, quantity_sent
FROM order_preparation_changes
WHERE order_id = $1
ORDER BY preparation_key`

func (q *Queries) ListPreparationChanges(ctx context.Context, orderID uuid.UUID) ([]PreparationChange, error) {
	rows, err := q.db.Query(ctx, listPreparationChanges, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PreparationChange
	for rows.Next() {
		var pc PreparationChange
		if err := rows.Scan(&pc.OrderID, &pc.PreparationKey, &pc.ProductID, &pc.QuantitySent); err != nil {
			return nil, err
		}
		items = append(items, pc)
	}
	return items, rows.Err()
}

const getNextTrackingNumber = `SELECT (COALESCE(MAX(tracking_number::INTEGER), 0) + 1)::INTEGER
FROM orders
WHERE outlet_id = $1 AND tracking_number ~ '^[0-9]+$'`

func (q *Queries) GetNextTrackingNumber(ctx context.Context, outletID uuid.UUID) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, getNextTrackingNumber, outletID).Scan(&n)
	return n, err
}

const createOrder = `INSERT INTO orders (
	id, outlet_id, tracking_number, table_name, note, status, customer_count, split_from_id
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	ID             uuid.UUID
	OutletID       uuid.UUID
	TrackingNumber string
	TableName      pgtype.Text
	Note           pgtype.Text
	Status         string
	CustomerCount  int32
	SplitFromID    pgtype.UUID
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder,
		arg.ID,
		arg.OutletID,
		arg.TrackingNumber,
		arg.TableName,
		arg.Note,
		arg.Status,
		arg.CustomerCount,
		arg.SplitFromID,
	))
}

const createOrderLine = `INSERT INTO order_lines (
	id, order_id, position, product_id, product_name, quantity,
	unit_price_with_tax, is_groupable, preparation_key, combo_group_id, is_combo_parent
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

type CreateOrderLineParams struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Position         int32
	ProductID        uuid.UUID
	ProductName      string
	Quantity         pgtype.Numeric
	UnitPriceWithTax pgtype.Numeric
	IsGroupable      bool
	PreparationKey   string
	ComboGroupID     pgtype.UUID
	IsComboParent    bool
}

func (q *Queries) CreateOrderLine(ctx context.Context, arg CreateOrderLineParams) error {
	_, err := q.db.Exec(ctx, createOrderLine,
		arg.ID,
		arg.OrderID,
		arg.Position,
		arg.ProductID,
		arg.ProductName,
		arg.Quantity,
		arg.UnitPriceWithTax,
		arg.IsGroupable,
		arg.PreparationKey,
		arg.ComboGroupID,
		arg.IsComboParent,
	)
	return err
}

const updateOrderLineQuantity = `UPDATE order_lines SET quantity = $2 WHERE id = $1`

type UpdateOrderLineQuantityParams struct {
	ID       uuid.UUID
	Quantity pgtype.Numeric
}

func (q *Queries) UpdateOrderLineQuantity(ctx context.Context, arg UpdateOrderLineQuantityParams) error {
	_, err := q.db.Exec(ctx, updateOrderLineQuantity, arg.ID, arg.Quantity)
	return err
}

const deleteOrderLine = `DELETE FROM order_lines WHERE id = $1`

func (q *Queries) DeleteOrderLine(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteOrderLine, id)
	return err
}

const upsertPreparationChange = `INSERT INTO order_preparation_changes (
	order_id, preparation_key, product_id, quantity_sent
) VALUES ($1, $2, $3, $4)
ON CONFLICT (order_id, preparation_key) DO UPDATE SET
	product_id = EXCLUDED.product_id,
	quantity_sent = EXCLUDED.quantity_sent`

type UpsertPreparationChangeParams struct {
	OrderID        uuid.UUID
	PreparationKey string
	ProductID      uuid.UUID
	QuantitySent   pgtype.Numeric
}

func (q *Queries) UpsertPreparationChange(ctx context.Context, arg UpsertPreparationChangeParams) error {
	_, err := q.db.Exec(ctx, upsertPreparationChange, arg.OrderID, arg.PreparationKey, arg.ProductID, arg.QuantitySent)
	return err
}

const updateCustomerCount = `UPDATE orders SET customer_count = $2, updated_at = NOW() WHERE id = $1`

type UpdateCustomerCountParams struct {
	ID            uuid.UUID
	CustomerCount int32
}

func (q *Queries) UpdateCustomerCount(ctx context.Context, arg UpdateCustomerCountParams) error {
	_, err := q.db.Exec(ctx, updateCustomerCount, arg.ID, arg.CustomerCount)
	return err
}
