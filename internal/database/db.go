package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries runs the split-bill SQL against a pool or a transaction.
type Queries struct {
	db DBTX
}

// New creates Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

type Order struct {
	ID             uuid.UUID
	OutletID       uuid.UUID
	TrackingNumber string
	TableName      pgtype.Text
	Note           pgtype.Text
	Status         string
	CustomerCount  int32
	SplitFromID    pgtype.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OrderLine struct {
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

type PreparationChange struct {
	OrderID        uuid.UUID
	PreparationKey string
	ProductID      uuid.UUID
	QuantitySent   pgtype.Numeric
}
