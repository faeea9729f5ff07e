// Package split moves a user-selected part of an order into a new order while
// keeping the kitchen preparation accounting of both orders consistent.
package split

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLine is one product entry of an order.
type OrderLine struct {
	ID               uuid.UUID
	ProductID        uuid.UUID
	ProductName      string
	Quantity         decimal.Decimal
	UnitPriceWithTax decimal.Decimal
	IsGroupable      bool

	// PreparationKey identifies the line in the order's PreparationChange map.
	// It survives quantity changes; a split-off copy gets a fresh key.
	PreparationKey string

	ComboGroupID  uuid.NullUUID
	IsComboParent bool
}

// PriceWithTax is the line total including tax.
func (l *OrderLine) PriceWithTax() decimal.Decimal {
	return l.UnitPriceWithTax.Mul(l.Quantity)
}

func (l *OrderLine) clone() *OrderLine {
	c := *l
	return &c
}

// PreparationChange records what has already been sent to the kitchen for one
// preparation key.
type PreparationChange struct {
	ProductID    uuid.UUID
	QuantitySent decimal.Decimal
}

// Order is an open order together with its kitchen accounting.
type Order struct {
	ID             uuid.UUID
	OutletID       uuid.UUID
	TrackingNumber string
	TableName      string
	Note           string
	Status         string
	SplitFromID    uuid.NullUUID
	CustomerCount  int
	Lines          []*OrderLine

	PreparationChange map[string]PreparationChange
}

// Name is the table name for table orders and the tracking number otherwise.
func (o *Order) Name() string {
	if o.TableName != "" {
		return o.TableName
	}
	return o.TrackingNumber
}

// Line returns the line with the given id, or nil.
func (o *Order) Line(id uuid.UUID) *OrderLine {
	for _, l := range o.Lines {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// LinesInGroup returns every line of the combo group, in order.
func (o *Order) LinesInGroup(groupID uuid.UUID) []*OrderLine {
	var lines []*OrderLine
	for _, l := range o.Lines {
		if l.ComboGroupID.Valid && l.ComboGroupID.UUID == groupID {
			lines = append(lines, l)
		}
	}
	return lines
}

// ComboLines returns the lines that move together with line: its whole combo
// group, or just the line itself when it is not part of a combo.
func (o *Order) ComboLines(line *OrderLine) []*OrderLine {
	if !line.ComboGroupID.Valid {
		return []*OrderLine{line}
	}
	lines := o.LinesInGroup(line.ComboGroupID.UUID)
	if len(lines) == 0 {
		return []*OrderLine{line}
	}
	return lines
}

// ComboParent returns the single line flagged as parent of the combo group.
func (o *Order) ComboParent(groupID uuid.UUID) (*OrderLine, error) {
	var parents []*OrderLine
	for _, l := range o.LinesInGroup(groupID) {
		if l.IsComboParent {
			parents = append(parents, l)
		}
	}
	if len(parents) != 1 {
		return nil, &AmbiguousParentError{GroupID: groupID, Candidates: len(parents)}
	}
	return parents[0], nil
}

// UpdatePreparationChange rebuilds the preparation map from the current lines,
// counting every line as fully sent.
func (o *Order) UpdatePreparationChange() {
	change := make(map[string]PreparationChange, len(o.Lines))
	for _, l := range o.Lines {
		pc := change[l.PreparationKey]
		pc.ProductID = l.ProductID
		pc.QuantitySent = pc.QuantitySent.Add(l.Quantity)
		change[l.PreparationKey] = pc
	}
	o.PreparationChange = change
}

// SentQuantity is what the kitchen has already received for the line.
func (o *Order) SentQuantity(line *OrderLine) decimal.Decimal {
	if pc, ok := o.PreparationChange[line.PreparationKey]; ok {
		return pc.QuantitySent
	}
	return decimal.Zero
}
