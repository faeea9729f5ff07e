package split

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Hook runs with the original order and the order being split off.
type Hook func(original, split *Order)

// Splitter moves selected quantities into a new order. A zero Splitter is
// usable; options override id generation, numbering and hooks.
type Splitter struct {
	newID          func() uuid.UUID
	trackingNumber string
	beforeSplit    Hook
	afterSplit     Hook
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithIDGenerator sets the generator for new order, line and preparation ids.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(s *Splitter) { s.newID = fn }
}

// WithTrackingNumber sets the tracking number of the order Split creates.
func WithTrackingNumber(n string) Option {
	return func(s *Splitter) { s.trackingNumber = n }
}

// WithBeforeSplit registers a hook that runs once the new order exists but
// before any line moves.
func WithBeforeSplit(h Hook) Option {
	return func(s *Splitter) { s.beforeSplit = h }
}

// WithAfterSplit registers a hook that runs after both orders are settled.
func WithAfterSplit(h Hook) Option {
	return func(s *Splitter) { s.afterSplit = h }
}

// New returns a Splitter.
func New(opts ...Option) *Splitter {
	s := &Splitter{newID: uuid.New}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Splitter) id() uuid.UUID {
	if s.newID == nil {
		return uuid.New()
	}
	return s.newID()
}

// SentQuantitySplit divides the quantity already sent to the kitchen for
// original between original and its split-off copy. Unsent units leave
// first, so the copy only inherits sent units once the unsent ones run out.
// The two returned values always add up to sent.
func SentQuantitySplit(original, copied *OrderLine, sent decimal.Decimal) map[string]decimal.Decimal {
	unsent := original.Quantity.Sub(sent)
	copiedSent := decimal.Max(copied.Quantity.Sub(unsent), decimal.Zero)
	return map[string]decimal.Decimal{
		original.PreparationKey: sent.Sub(copiedSent),
		copied.PreparationKey:   copiedSent,
	}
}

// Split moves the selected quantities of order into a new order and returns
// it. order is modified in place: fully picked lines are removed, partially
// picked ones shrink, its preparation accounting is reattributed and its
// customer count drops by one. The caller must hold order exclusively.
func (s *Splitter) Split(order *Order, sel *Selection) (*Order, error) {
	if err := sel.Validate(order); err != nil {
		return nil, err
	}
	if sel.IsEmpty() {
		return nil, ErrEmptySelection
	}

	split := &Order{
		ID:             s.id(),
		OutletID:       order.OutletID,
		TrackingNumber: s.trackingNumber,
		TableName:      order.TableName,
		Status:         order.Status,
		SplitFromID:    uuid.NullUUID{UUID: order.ID, Valid: true},
		CustomerCount:  1,
	}
	split.Note = fmt.Sprintf("%s Split from %s", split.TrackingNumber, order.Name())

	if s.beforeSplit != nil {
		s.beforeSplit(order, split)
	}

	sentQty := make(map[string]decimal.Decimal)
	groups := make(map[uuid.UUID]uuid.UUID)
	kept := order.Lines[:0:0]

	for _, line := range order.Lines {
		picked := sel.Quantity(line.ID)
		if picked.IsZero() {
			kept = append(kept, line)
			continue
		}

		copied := line.clone()
		copied.ID = s.id()
		copied.PreparationKey = s.id().String()
		copied.Quantity = picked
		if line.ComboGroupID.Valid {
			g, ok := groups[line.ComboGroupID.UUID]
			if !ok {
				g = s.id()
				groups[line.ComboGroupID.UUID] = g
			}
			copied.ComboGroupID = uuid.NullUUID{UUID: g, Valid: true}
		}
		split.Lines = append(split.Lines, copied)

		for key, qty := range SentQuantitySplit(line, copied, order.SentQuantity(line)) {
			sentQty[key] = qty
		}

		if picked.Equal(line.Quantity) {
			continue
		}
		line.Quantity = line.Quantity.Sub(picked)
		kept = append(kept, line)
	}
	order.Lines = kept

	for key, pc := range order.PreparationChange {
		if qty, ok := sentQty[key]; ok {
			pc.QuantitySent = qty
			order.PreparationChange[key] = pc
		}
	}

	split.UpdatePreparationChange()
	for key, pc := range split.PreparationChange {
		pc.QuantitySent = sentQty[key]
		split.PreparationChange[key] = pc
	}

	if order.CustomerCount > 0 {
		order.CustomerCount--
	}

	if s.afterSplit != nil {
		s.afterSplit(order, split)
	}
	return split, nil
}
