package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kiwari-pos/splitbill/internal/database"
	"github.com/kiwari-pos/splitbill/internal/enum"
	"github.com/kiwari-pos/splitbill/internal/events"
	"github.com/kiwari-pos/splitbill/internal/split"
	"github.com/shopspring/decimal"
)

const maxTrackingNumberRetries = 3

// Errors returned by the split service.
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderClosed      = errors.New("order is completed or cancelled")
	ErrLineNotFound     = errors.New("line not found in order")
	ErrEmptySelection   = errors.New("select at least one line to split")
	ErrInvalidSelection = errors.New("invalid selection")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SplitStore defines the DB methods the split flow needs.
// Satisfied by *database.Queries.
type SplitStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]database.OrderLine, error)
	ListPreparationChanges(ctx context.Context, orderID uuid.UUID) ([]database.PreparationChange, error)
	GetNextTrackingNumber(ctx context.Context, outletID uuid.UUID) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderLine(ctx context.Context, arg database.CreateOrderLineParams) error
	UpdateOrderLineQuantity(ctx context.Context, arg database.UpdateOrderLineQuantityParams) error
	DeleteOrderLine(ctx context.Context, id uuid.UUID) error
	UpsertPreparationChange(ctx context.Context, arg database.UpsertPreparationChangeParams) error
	UpdateCustomerCount(ctx context.Context, arg database.UpdateCustomerCountParams) error
}

// NewSplitStore creates a SplitStore from a DBTX (pool or tx).
type NewSplitStore func(db database.DBTX) SplitStore

// Broadcaster pushes events to the POS terminals of an outlet.
// Satisfied by *ws.Hub.
type Broadcaster interface {
	Publish(outletID uuid.UUID, eventType string, payload any) error
}

// KitchenNotifier tells the kitchen about moved preparation quantities.
// Satisfied by *events.KitchenNotifier.
type KitchenNotifier interface {
	OrderSplit(ctx context.Context, ev events.OrderSplitEvent) error
}

// PreviewRequest toggles LineID on top of an existing selection. A nil
// LineID only renders the selection.
type PreviewRequest struct {
	OutletID  uuid.UUID
	OrderID   uuid.UUID
	LineID    uuid.UUID
	Selection map[uuid.UUID]decimal.Decimal
}

// Preview is the split screen state after a toggle.
type Preview struct {
	Order     *split.Order
	Selection *split.Selection
	Lines     []split.DisplayLine
	Total     decimal.Decimal
	Warnings  []string
}

// SplitRequest commits a selection.
type SplitRequest struct {
	OutletID    uuid.UUID
	OrderID     uuid.UUID
	RequestedBy uuid.UUID
	Selection   map[uuid.UUID]decimal.Decimal
}

// SplitResult holds both orders as persisted.
type SplitResult struct {
	Original *split.Order
	New      *split.Order
}

// SplitService runs bill splits against the database.
type SplitService struct {
	pool     TxBeginner
	reader   SplitStore
	newStore NewSplitStore
	hub      Broadcaster
	kitchen  KitchenNotifier
	newID    func() uuid.UUID
}

// NewSplitService creates a new SplitService. hub and kitchen may be nil.
func NewSplitService(pool TxBeginner, reader SplitStore, newStore NewSplitStore, hub Broadcaster, kitchen KitchenNotifier) *SplitService {
	return &SplitService{
		pool:     pool,
		reader:   reader,
		newStore: newStore,
		hub:      hub,
		kitchen:  kitchen,
		newID:    uuid.New,
	}
}

// PreviewToggle applies one tap on the split screen and returns what the
// screen shows next. Nothing is written.
func (s *SplitService) PreviewToggle(ctx context.Context, req PreviewRequest) (*Preview, error) {
	order, err := loadOrder(ctx, s.reader, req.OutletID, req.OrderID, false)
	if err != nil {
		return nil, err
	}

	sel, err := split.SelectionFromQuantities(order, req.Selection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}

	if req.LineID != uuid.Nil {
		line := order.Line(req.LineID)
		if line == nil {
			return nil, ErrLineNotFound
		}
		split.ToggleLine(order, line, sel)
	}

	return buildPreview(order, sel), nil
}

func buildPreview(order *split.Order, sel *split.Selection) *Preview {
	p := &Preview{
		Order:     order,
		Selection: sel,
		Lines:     make([]split.DisplayLine, len(order.Lines)),
		Total:     sel.Total(),
	}

	checked := make(map[uuid.UUID]bool)
	for i, line := range order.Lines {
		p.Lines[i] = split.LineDisplayData(line, sel)

		if !line.ComboGroupID.Valid || checked[line.ComboGroupID.UUID] {
			continue
		}
		checked[line.ComboGroupID.UUID] = true
		if _, err := order.ComboParent(line.ComboGroupID.UUID); err != nil {
			var ambiguous *split.AmbiguousParentError
			if errors.As(err, &ambiguous) {
				p.Warnings = append(p.Warnings, err.Error())
			}
		}
	}
	return p
}

// SplitOrder moves the selected quantities into a new order in one
// transaction. Retries up to maxTrackingNumberRetries times when a concurrent
// order took the same tracking number.
func (s *SplitService) SplitOrder(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	if len(req.Selection) == 0 {
		return nil, ErrEmptySelection
	}

	var lastErr error
	for attempt := 0; attempt < maxTrackingNumberRetries; attempt++ {
		result, err := s.splitTx(ctx, req)
		if err == nil {
			s.notify(ctx, result)
			return result, nil
		}
		if isTrackingNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isTrackingNumberConflict checks for a unique violation on the outlet's
// tracking numbers (pgconn error code 23505).
func isTrackingNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_outlet_id_tracking_number_key"
	}
	return false
}

func (s *SplitService) splitTx(ctx context.Context, req SplitRequest) (*SplitResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// The row lock keeps a second split of the same order waiting until we commit.
	order, err := loadOrder(ctx, store, req.OutletID, req.OrderID, true)
	if err != nil {
		return nil, err
	}
	if !enum.IsOpenOrderStatus(order.Status) {
		return nil, ErrOrderClosed
	}

	sel, err := split.SelectionFromQuantities(order, req.Selection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}
	if sel.IsEmpty() {
		return nil, ErrEmptySelection
	}

	before := make(map[uuid.UUID]decimal.Decimal, len(order.Lines))
	for _, l := range order.Lines {
		before[l.ID] = l.Quantity
	}

	next, err := store.GetNextTrackingNumber(ctx, req.OutletID)
	if err != nil {
		return nil, fmt.Errorf("get next tracking number: %w", err)
	}

	splitter := split.New(
		split.WithTrackingNumber(fmt.Sprintf("%03d", next)),
		split.WithIDGenerator(s.newID),
	)
	newOrder, err := splitter.Split(order, sel)
	if err != nil {
		if errors.Is(err, split.ErrEmptySelection) {
			return nil, ErrEmptySelection
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidSelection, err)
	}

	// --- New order ---
	if _, err := store.CreateOrder(ctx, toCreateOrderParams(newOrder)); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	for i, line := range newOrder.Lines {
		if err := store.CreateOrderLine(ctx, toCreateOrderLineParams(newOrder.ID, int32(i), line)); err != nil {
			return nil, fmt.Errorf("create order line: %w", err)
		}
	}

	// --- Original order ---
	for id, qty := range before {
		line := order.Line(id)
		switch {
		case line == nil:
			if err := store.DeleteOrderLine(ctx, id); err != nil {
				return nil, fmt.Errorf("delete order line: %w", err)
			}
		case !line.Quantity.Equal(qty):
			if err := store.UpdateOrderLineQuantity(ctx, database.UpdateOrderLineQuantityParams{
				ID:       id,
				Quantity: decimalToNumeric(line.Quantity),
			}); err != nil {
				return nil, fmt.Errorf("update order line: %w", err)
			}
		}
	}
	if err := store.UpdateCustomerCount(ctx, database.UpdateCustomerCountParams{
		ID:            order.ID,
		CustomerCount: int32(order.CustomerCount),
	}); err != nil {
		return nil, fmt.Errorf("update customer count: %w", err)
	}

	// --- Preparation accounting, both sides ---
	for _, o := range []*split.Order{order, newOrder} {
		for key, pc := range o.PreparationChange {
			if err := store.UpsertPreparationChange(ctx, database.UpsertPreparationChangeParams{
				OrderID:        o.ID,
				PreparationKey: key,
				ProductID:      pc.ProductID,
				QuantitySent:   decimalToNumeric(pc.QuantitySent),
			}); err != nil {
				return nil, fmt.Errorf("upsert preparation change: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	log.Printf("split order %s into %s (%d lines, requested by %s)", order.ID, newOrder.ID, len(newOrder.Lines), req.RequestedBy)
	return &SplitResult{Original: order, New: newOrder}, nil
}

// splitEventPayload is pushed to terminals so they can switch to the new order.
type splitEventPayload struct {
	OriginalOrderID uuid.UUID `json:"original_order_id"`
	NewOrderID      uuid.UUID `json:"new_order_id"`
	TrackingNumber  string    `json:"tracking_number"`
	TableName       string    `json:"table_name,omitempty"`
}

// notify runs after commit; failures are logged because the split stands.
func (s *SplitService) notify(ctx context.Context, r *SplitResult) {
	if s.hub != nil {
		err := s.hub.Publish(r.Original.OutletID, enum.EventOrderSplit, splitEventPayload{
			OriginalOrderID: r.Original.ID,
			NewOrderID:      r.New.ID,
			TrackingNumber:  r.New.TrackingNumber,
			TableName:       r.New.TableName,
		})
		if err != nil {
			log.Printf("ERROR: broadcast order split: %v", err)
		}
	}

	if s.kitchen != nil {
		err := s.kitchen.OrderSplit(ctx, events.OrderSplitEvent{
			OutletID:        r.Original.OutletID.String(),
			OriginalOrderID: r.Original.ID.String(),
			NewOrderID:      r.New.ID.String(),
			TrackingNumber:  r.New.TrackingNumber,
			Original:        sentQuantities(r.Original),
			Split:           sentQuantities(r.New),
		})
		if err != nil {
			log.Printf("ERROR: notify kitchen of order split: %v", err)
		}
	}
}
