package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/splitbill/internal/database"
	"github.com/kiwari-pos/splitbill/internal/events"
	"github.com/kiwari-pos/splitbill/internal/split"
	"github.com/shopspring/decimal"
)

// loadOrder reads an order with its lines and preparation accounting.
func loadOrder(ctx context.Context, store SplitStore, outletID, orderID uuid.UUID, forUpdate bool) (*split.Order, error) {
	params := database.GetOrderParams{ID: orderID, OutletID: outletID}

	var (
		row database.Order
		err error
	)
	if forUpdate {
		row, err = store.GetOrderForUpdate(ctx, params)
	} else {
		row, err = store.GetOrder(ctx, params)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	lines, err := store.ListOrderLines(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}

	changes, err := store.ListPreparationChanges(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list preparation changes: %w", err)
	}

	return toSplitOrder(row, lines, changes), nil
}

func toSplitOrder(o database.Order, lines []database.OrderLine, changes []database.PreparationChange) *split.Order {
	order := &split.Order{
		ID:                o.ID,
		OutletID:          o.OutletID,
		TrackingNumber:    o.TrackingNumber,
		TableName:         o.TableName.String,
		Note:              o.Note.String,
		Status:            o.Status,
		CustomerCount:     int(o.CustomerCount),
		Lines:             make([]*split.OrderLine, len(lines)),
		PreparationChange: make(map[string]split.PreparationChange, len(changes)),
	}
	if o.SplitFromID.Valid {
		order.SplitFromID = uuid.NullUUID{UUID: o.SplitFromID.Bytes, Valid: true}
	}

	for i, l := range lines {
		line := &split.OrderLine{
			ID:               l.ID,
			ProductID:        l.ProductID,
			ProductName:      l.ProductName,
			Quantity:         numericToDecimal(l.Quantity),
			UnitPriceWithTax: numericToDecimal(l.UnitPriceWithTax),
			IsGroupable:      l.IsGroupable,
			PreparationKey:   l.PreparationKey,
			IsComboParent:    l.IsComboParent,
		}
		if l.ComboGroupID.Valid {
			line.ComboGroupID = uuid.NullUUID{UUID: l.ComboGroupID.Bytes, Valid: true}
		}
		order.Lines[i] = line
	}

	for _, pc := range changes {
		order.PreparationChange[pc.PreparationKey] = split.PreparationChange{
			ProductID:    pc.ProductID,
			QuantitySent: numericToDecimal(pc.QuantitySent),
		}
	}
	return order
}

func toCreateOrderParams(o *split.Order) database.CreateOrderParams {
	return database.CreateOrderParams{
		ID:             o.ID,
		OutletID:       o.OutletID,
		TrackingNumber: o.TrackingNumber,
		TableName:      optionalText(o.TableName),
		Note:           optionalText(o.Note),
		Status:         o.Status,
		CustomerCount:  int32(o.CustomerCount),
		SplitFromID:    optionalUUID(o.SplitFromID),
	}
}

func toCreateOrderLineParams(orderID uuid.UUID, position int32, l *split.OrderLine) database.CreateOrderLineParams {
	return database.CreateOrderLineParams{
		ID:               l.ID,
		OrderID:          orderID,
		Position:         position,
		ProductID:        l.ProductID,
		ProductName:      l.ProductName,
		Quantity:         decimalToNumeric(l.Quantity),
		UnitPriceWithTax: decimalToNumeric(l.UnitPriceWithTax),
		IsGroupable:      l.IsGroupable,
		PreparationKey:   l.PreparationKey,
		ComboGroupID:     optionalUUID(l.ComboGroupID),
		IsComboParent:    l.IsComboParent,
	}
}

// sentQuantities lists an order's preparation accounting sorted by key.
func sentQuantities(o *split.Order) []events.SentQuantity {
	out := make([]events.SentQuantity, 0, len(o.PreparationChange))
	for key, pc := range o.PreparationChange {
		out = append(out, events.SentQuantity{
			PreparationKey: key,
			ProductID:      pc.ProductID.String(),
			QuantitySent:   pc.QuantitySent.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PreparationKey < out[j].PreparationKey })
	return out
}

// --- Helpers ---

func optionalText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func optionalUUID(id uuid.NullUUID) pgtype.UUID {
	if !id.Valid {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id.UUID, Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}
