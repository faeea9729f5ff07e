package split

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Selection holds the quantity picked per line for one split, along with the
// proportional price of each pick.
type Selection struct {
	quantities map[uuid.UUID]decimal.Decimal
	prices     map[uuid.UUID]decimal.Decimal
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{
		quantities: make(map[uuid.UUID]decimal.Decimal),
		prices:     make(map[uuid.UUID]decimal.Decimal),
	}
}

// SelectionFromQuantities rebuilds a selection sent back by a client.
// Every entry is validated against the order's lines.
func SelectionFromQuantities(order *Order, quantities map[uuid.UUID]decimal.Decimal) (*Selection, error) {
	sel := NewSelection()
	for id, qty := range quantities {
		line := order.Line(id)
		if line == nil {
			return nil, &InvalidSelectionError{LineID: id, Selected: qty, Reason: "line is not part of the order"}
		}
		if err := checkQuantity(line, qty); err != nil {
			return nil, err
		}
		sel.set(line, qty)
	}
	return sel, nil
}

// Quantity returns the selected quantity of the line, zero when unset.
func (s *Selection) Quantity(lineID uuid.UUID) decimal.Decimal {
	return s.quantities[lineID]
}

// Price returns the cached proportional price of the line's pick.
func (s *Selection) Price(lineID uuid.UUID) decimal.Decimal {
	return s.prices[lineID]
}

// Quantities returns a copy of the non-zero picks.
func (s *Selection) Quantities() map[uuid.UUID]decimal.Decimal {
	out := make(map[uuid.UUID]decimal.Decimal, len(s.quantities))
	for id, q := range s.quantities {
		if !q.IsZero() {
			out[id] = q
		}
	}
	return out
}

// IsEmpty reports whether nothing is selected.
func (s *Selection) IsEmpty() bool {
	for _, q := range s.quantities {
		if !q.IsZero() {
			return false
		}
	}
	return true
}

// Total is the price of everything selected, i.e. the price of the order the
// split would create.
func (s *Selection) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.prices {
		total = total.Add(p)
	}
	return total
}

// Validate checks every pick against the order.
func (s *Selection) Validate(order *Order) error {
	for id, qty := range s.quantities {
		line := order.Line(id)
		if line == nil {
			if qty.IsZero() {
				continue
			}
			return &InvalidSelectionError{LineID: id, Selected: qty, Reason: "line is not part of the order"}
		}
		if err := checkQuantity(line, qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *Selection) set(line *OrderLine, qty decimal.Decimal) {
	s.quantities[line.ID] = qty
	if line.Quantity.IsZero() {
		s.prices[line.ID] = decimal.Zero
		return
	}
	s.prices[line.ID] = line.PriceWithTax().Div(line.Quantity).Mul(qty)
}

func checkQuantity(line *OrderLine, qty decimal.Decimal) error {
	invalid := func(reason string) error {
		return &InvalidSelectionError{LineID: line.ID, Selected: qty, Quantity: line.Quantity, Reason: reason}
	}
	switch {
	case qty.IsNegative():
		return invalid("negative quantity")
	case qty.GreaterThan(line.Quantity):
		return invalid("more than the line quantity")
	case qty.IsZero(), qty.Equal(line.Quantity):
		return nil
	case !line.IsGroupable:
		return invalid("line cannot be split partially")
	case !qty.IsInteger():
		return invalid("partial picks must be whole units")
	}
	return nil
}

// ToggleLine advances the pick of line and of every line sharing its combo
// group. Non-groupable lines flip between nothing and everything; groupable
// lines step one unit at a time and wrap to zero after the full quantity.
func ToggleLine(order *Order, line *OrderLine, sel *Selection) {
	for _, l := range order.ComboLines(line) {
		sel.set(l, nextQuantity(l, sel.Quantity(l.ID)))
	}
}

func nextQuantity(l *OrderLine, cur decimal.Decimal) decimal.Decimal {
	var next decimal.Decimal
	switch {
	case !l.IsGroupable:
		if cur.Equal(l.Quantity) {
			return decimal.Zero
		}
		return l.Quantity
	case cur.IsZero():
		next = one
	case cur.GreaterThanOrEqual(l.Quantity):
		return decimal.Zero
	default:
		next = cur.Add(one)
	}
	// Fractional quantities end on the full quantity instead of overshooting.
	return decimal.Min(next, l.Quantity)
}

// DisplayLine is what a split screen shows for one line.
type DisplayLine struct {
	LineID        uuid.UUID
	ProductName   string
	Quantity      string
	UnitPrice     string
	Price         string
	Selected      decimal.Decimal
	SelectedPrice decimal.Decimal
	IsComboParent bool
	ComboGroupID  uuid.NullUUID
}

// LineDisplayData renders the line, showing "<selected> / <quantity>" when
// part of it is picked.
func LineDisplayData(line *OrderLine, sel *Selection) DisplayLine {
	d := DisplayLine{
		LineID:        line.ID,
		ProductName:   line.ProductName,
		Quantity:      line.Quantity.String(),
		UnitPrice:     line.UnitPriceWithTax.StringFixed(2),
		Price:         line.PriceWithTax().StringFixed(2),
		IsComboParent: line.IsComboParent,
		ComboGroupID:  line.ComboGroupID,
	}
	if picked := sel.Quantity(line.ID); !picked.IsZero() {
		d.Quantity = picked.String() + " / " + line.Quantity.String()
		d.Selected = picked
		d.SelectedPrice = sel.Price(line.ID)
	}
	return d
}
