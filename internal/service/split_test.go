package service

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/splitbill/internal/database"
	"github.com/kiwari-pos/splitbill/internal/events"
	"github.com/kiwari-pos/splitbill/internal/split"
	"github.com/shopspring/decimal"
)

// --- Mock implementations ---

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	committed bool
	commitErr error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = true
	return nil
}
func (m *mockTx) Rollback(ctx context.Context) error { return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

type mockTxBeginner struct {
	tx    *mockTx
	begun int
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	m.begun++
	return m.tx, nil
}

// fakeStore is an in-memory SplitStore.
type fakeStore struct {
	orders  map[uuid.UUID]database.Order
	lines   map[uuid.UUID][]database.OrderLine
	changes map[uuid.UUID]map[string]database.PreparationChange

	nextTracking   int32
	createOrderErr []error
	locked         int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:       make(map[uuid.UUID]database.Order),
		lines:        make(map[uuid.UUID][]database.OrderLine),
		changes:      make(map[uuid.UUID]map[string]database.PreparationChange),
		nextTracking: 12,
	}
}

func (f *fakeStore) GetOrder(_ context.Context, arg database.GetOrderParams) (database.Order, error) {
	o, ok := f.orders[arg.ID]
	if !ok || o.OutletID != arg.OutletID {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, arg database.GetOrderParams) (database.Order, error) {
	f.locked++
	return f.GetOrder(ctx, arg)
}

func (f *fakeStore) ListOrderLines(_ context.Context, orderID uuid.UUID) ([]database.OrderLine, error) {
	lines := append([]database.OrderLine(nil), f.lines[orderID]...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })
	return lines, nil
}

func (f *fakeStore) ListPreparationChanges(_ context.Context, orderID uuid.UUID) ([]database.PreparationChange, error) {
	var out []database.PreparationChange
	for _, pc := range f.changes[orderID] {
		out = append(out, pc)
	}
	return out, nil
}

func (f *fakeStore) GetNextTrackingNumber(_ context.Context, _ uuid.UUID) (int32, error) {
	return f.nextTracking, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, arg database.CreateOrderParams) (database.Order, error) {
	if len(f.createOrderErr) > 0 {
		err := f.createOrderErr[0]
		f.createOrderErr = f.createOrderErr[1:]
		if err != nil {
			return database.Order{}, err
		}
	}
	o := database.Order{
		ID:             arg.ID,
		OutletID:       arg.OutletID,
		TrackingNumber: arg.TrackingNumber,
		TableName:      arg.TableName,
		Note:           arg.Note,
		Status:         arg.Status,
		CustomerCount:  arg.CustomerCount,
		SplitFromID:    arg.SplitFromID,
	}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeStore) CreateOrderLine(_ context.Context, arg database.CreateOrderLineParams) error {
	f.lines[arg.OrderID] = append(f.lines[arg.OrderID], database.OrderLine(arg))
	return nil
}

func (f *fakeStore) UpdateOrderLineQuantity(_ context.Context, arg database.UpdateOrderLineQuantityParams) error {
	for orderID, lines := range f.lines {
		for i := range lines {
			if lines[i].ID == arg.ID {
				f.lines[orderID][i].Quantity = arg.Quantity
			}
		}
	}
	return nil
}

func (f *fakeStore) DeleteOrderLine(_ context.Context, id uuid.UUID) error {
	for orderID, lines := range f.lines {
		kept := lines[:0]
		for _, l := range lines {
			if l.ID != id {
				kept = append(kept, l)
			}
		}
		f.lines[orderID] = kept
	}
	return nil
}

func (f *fakeStore) UpsertPreparationChange(_ context.Context, arg database.UpsertPreparationChangeParams) error {
	if f.changes[arg.OrderID] == nil {
		f.changes[arg.OrderID] = make(map[string]database.PreparationChange)
	}
	f.changes[arg.OrderID][arg.PreparationKey] = database.PreparationChange(arg)
	return nil
}

func (f *fakeStore) UpdateCustomerCount(_ context.Context, arg database.UpdateCustomerCountParams) error {
	o := f.orders[arg.ID]
	o.CustomerCount = arg.CustomerCount
	f.orders[arg.ID] = o
	return nil
}

type publishedEvent struct {
	outletID  uuid.UUID
	eventType string
	payload   any
}

type mockBroadcaster struct {
	events []publishedEvent
	err    error
}

func (m *mockBroadcaster) Publish(outletID uuid.UUID, eventType string, payload any) error {
	m.events = append(m.events, publishedEvent{outletID, eventType, payload})
	return m.err
}

type mockKitchen struct {
	events []events.OrderSplitEvent
	err    error
}

func (m *mockKitchen) OrderSplit(_ context.Context, ev events.OrderSplitEvent) error {
	m.events = append(m.events, ev)
	return m.err
}

// --- Test helpers ---

type lineSeed struct {
	qty       string
	price     string
	sent      string
	groupable bool
}

type fixture struct {
	svc     *SplitService
	store   *fakeStore
	tx      *mockTx
	pool    *mockTxBeginner
	hub     *mockBroadcaster
	kitchen *mockKitchen

	outletID uuid.UUID
	orderID  uuid.UUID
	lineIDs  []uuid.UUID
	keys     []string
}

func newFixture(t *testing.T, status string, customers int32, seeds ...lineSeed) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		tx:       &mockTx{},
		hub:      &mockBroadcaster{},
		kitchen:  &mockKitchen{},
		outletID: uuid.New(),
		orderID:  uuid.New(),
	}
	f.pool = &mockTxBeginner{tx: f.tx}
	f.svc = NewSplitService(f.pool, f.store, func(db database.DBTX) SplitStore { return f.store }, f.hub, f.kitchen)

	f.store.orders[f.orderID] = database.Order{
		ID:             f.orderID,
		OutletID:       f.outletID,
		TrackingNumber: "011",
		TableName:      pgtype.Text{String: "T7", Valid: true},
		Status:         status,
		CustomerCount:  customers,
	}
	for i, s := range seeds {
		id := uuid.New()
		key := uuid.NewString()
		productID := uuid.New()
		f.lineIDs = append(f.lineIDs, id)
		f.keys = append(f.keys, key)
		f.store.lines[f.orderID] = append(f.store.lines[f.orderID], database.OrderLine{
			ID:               id,
			OrderID:          f.orderID,
			Position:         int32(i),
			ProductID:        productID,
			ProductName:      "Item",
			Quantity:         decimalToNumeric(decimal.RequireFromString(s.qty)),
			UnitPriceWithTax: decimalToNumeric(decimal.RequireFromString(s.price)),
			IsGroupable:      s.groupable,
			PreparationKey:   key,
		})
		if s.sent != "" {
			if f.store.changes[f.orderID] == nil {
				f.store.changes[f.orderID] = make(map[string]database.PreparationChange)
			}
			f.store.changes[f.orderID][key] = database.PreparationChange{
				OrderID:        f.orderID,
				PreparationKey: key,
				ProductID:      productID,
				QuantitySent:   decimalToNumeric(decimal.RequireFromString(s.sent)),
			}
		}
	}
	return f
}

func (f *fixture) request(picks ...string) SplitRequest {
	sel := make(map[uuid.UUID]decimal.Decimal)
	for i, p := range picks {
		sel[f.lineIDs[i]] = decimal.RequireFromString(p)
	}
	return SplitRequest{OutletID: f.outletID, OrderID: f.orderID, RequestedBy: uuid.New(), Selection: sel}
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	return numericToDecimal(n).Equal(decimal.RequireFromString(expected))
}

// --- SplitOrder ---

func TestSplitOrderWholeOrder(t *testing.T) {
	f := newFixture(t, "NEW", 3,
		lineSeed{qty: "2", price: "25000", sent: "1", groupable: true},
		lineSeed{qty: "1", price: "12000", sent: "1", groupable: false},
	)

	result, err := f.svc.SplitOrder(context.Background(), f.request("2", "1"))
	if err != nil {
		t.Fatalf("SplitOrder: %v", err)
	}
	if !f.tx.committed {
		t.Fatal("transaction not committed")
	}
	if f.store.locked != 1 {
		t.Errorf("order should be read with a row lock, got %d locked reads", f.store.locked)
	}

	if n := len(f.store.lines[f.orderID]); n != 0 {
		t.Errorf("original lines: got %d, want 0", n)
	}
	if c := f.store.orders[f.orderID].CustomerCount; c != 2 {
		t.Errorf("customer count: got %d, want 2", c)
	}
	if !numericEquals(f.store.changes[f.orderID][f.keys[0]].QuantitySent, "0") {
		t.Error("original preparation change of line A should be 0")
	}

	newID := result.New.ID
	stored, ok := f.store.orders[newID]
	if !ok {
		t.Fatal("new order not stored")
	}
	if stored.TrackingNumber != "012" {
		t.Errorf("tracking number: got %q, want %q", stored.TrackingNumber, "012")
	}
	if stored.Note.String != "012 Split from T7" {
		t.Errorf("note: got %q", stored.Note.String)
	}
	if !stored.SplitFromID.Valid || uuid.UUID(stored.SplitFromID.Bytes) != f.orderID {
		t.Errorf("split_from_id: got %v", stored.SplitFromID)
	}

	newLines := f.store.lines[newID]
	if len(newLines) != 2 {
		t.Fatalf("new lines: got %d, want 2", len(newLines))
	}
	for i, want := range []string{"2", "1"} {
		if !numericEquals(newLines[i].Quantity, want) {
			t.Errorf("new line %d quantity: got %v, want %s", i, numericToDecimal(newLines[i].Quantity), want)
		}
		pc := f.store.changes[newID][newLines[i].PreparationKey]
		if !numericEquals(pc.QuantitySent, "1") {
			t.Errorf("new line %d sent: got %v, want 1", i, numericToDecimal(pc.QuantitySent))
		}
	}

	if len(f.hub.events) != 1 || f.hub.events[0].eventType != "order.split" || f.hub.events[0].outletID != f.outletID {
		t.Errorf("broadcast: got %+v", f.hub.events)
	}
	if len(f.kitchen.events) != 1 || len(f.kitchen.events[0].Split) != 2 {
		t.Errorf("kitchen events: got %+v", f.kitchen.events)
	}
}

func TestSplitOrderPartialLine(t *testing.T) {
	f := newFixture(t, "PREPARING", 2,
		lineSeed{qty: "3", price: "9.00", sent: "2", groupable: true},
	)

	result, err := f.svc.SplitOrder(context.Background(), f.request("1"))
	if err != nil {
		t.Fatalf("SplitOrder: %v", err)
	}

	original := f.store.lines[f.orderID]
	if len(original) != 1 || !numericEquals(original[0].Quantity, "2") {
		t.Fatalf("original line should shrink to 2, got %+v", original)
	}
	if !numericEquals(f.store.changes[f.orderID][f.keys[0]].QuantitySent, "2") {
		t.Error("original sent should stay 2")
	}

	newLines := f.store.lines[result.New.ID]
	if len(newLines) != 1 || !numericEquals(newLines[0].Quantity, "1") {
		t.Fatalf("new line: got %+v", newLines)
	}
	if !numericEquals(f.store.changes[result.New.ID][newLines[0].PreparationKey].QuantitySent, "0") {
		t.Error("new line sent should be 0")
	}
	if result.New.Status != "PREPARING" {
		t.Errorf("new order status: got %q", result.New.Status)
	}
}

func TestSplitOrderErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		mutate  func(f *fixture, req *SplitRequest)
		wantErr error
	}{
		{
			name:    "order not found",
			status:  "NEW",
			mutate:  func(f *fixture, req *SplitRequest) { req.OrderID = uuid.New() },
			wantErr: ErrOrderNotFound,
		},
		{
			name:    "other outlet",
			status:  "NEW",
			mutate:  func(f *fixture, req *SplitRequest) { req.OutletID = uuid.New() },
			wantErr: ErrOrderNotFound,
		},
		{
			name:    "completed order",
			status:  "COMPLETED",
			wantErr: ErrOrderClosed,
		},
		{
			name:    "cancelled order",
			status:  "CANCELLED",
			wantErr: ErrOrderClosed,
		},
		{
			name:   "too many units",
			status: "NEW",
			mutate: func(f *fixture, req *SplitRequest) {
				req.Selection[f.lineIDs[0]] = decimal.NewFromInt(5)
			},
			wantErr: ErrInvalidSelection,
		},
		{
			name:   "unknown line",
			status: "NEW",
			mutate: func(f *fixture, req *SplitRequest) {
				req.Selection[uuid.New()] = decimal.NewFromInt(1)
			},
			wantErr: ErrInvalidSelection,
		},
		{
			name:   "all zero",
			status: "NEW",
			mutate: func(f *fixture, req *SplitRequest) {
				req.Selection[f.lineIDs[0]] = decimal.Zero
			},
			wantErr: ErrEmptySelection,
		},
		{
			name:    "no selection",
			status:  "NEW",
			mutate:  func(f *fixture, req *SplitRequest) { req.Selection = nil },
			wantErr: ErrEmptySelection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.status, 2, lineSeed{qty: "2", price: "10", groupable: true})
			req := f.request("1")
			if tt.mutate != nil {
				tt.mutate(f, &req)
			}

			_, err := f.svc.SplitOrder(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if f.tx.committed {
				t.Error("transaction must not commit on error")
			}
			if len(f.hub.events) != 0 || len(f.kitchen.events) != 0 {
				t.Error("no notification expected on error")
			}
		})
	}
}

func TestSplitOrderInvalidSelectionCarriesDetail(t *testing.T) {
	f := newFixture(t, "NEW", 2, lineSeed{qty: "2", price: "10", groupable: false})

	_, err := f.svc.SplitOrder(context.Background(), f.request("1"))
	var selErr *split.InvalidSelectionError
	if !errors.As(err, &selErr) {
		t.Fatalf("error: got %v, want InvalidSelectionError", err)
	}
	if selErr.LineID != f.lineIDs[0] {
		t.Errorf("line id: got %v, want %v", selErr.LineID, f.lineIDs[0])
	}
}

func TestSplitOrderRetriesTrackingNumberConflict(t *testing.T) {
	f := newFixture(t, "NEW", 2, lineSeed{qty: "2", price: "10", groupable: true})
	f.store.createOrderErr = []error{
		&pgconn.PgError{Code: "23505", ConstraintName: "orders_outlet_id_tracking_number_key"},
	}

	if _, err := f.svc.SplitOrder(context.Background(), f.request("1")); err != nil {
		t.Fatalf("SplitOrder: %v", err)
	}
	if f.pool.begun != 2 {
		t.Errorf("transactions begun: got %d, want 2", f.pool.begun)
	}
}

func TestSplitOrderGivesUpAfterRetries(t *testing.T) {
	f := newFixture(t, "NEW", 2, lineSeed{qty: "2", price: "10", groupable: true})
	conflict := &pgconn.PgError{Code: "23505", ConstraintName: "orders_outlet_id_tracking_number_key"}
	f.store.createOrderErr = []error{conflict, conflict, conflict}

	_, err := f.svc.SplitOrder(context.Background(), f.request("1"))
	if !isTrackingNumberConflict(err) {
		t.Fatalf("error: got %v, want tracking number conflict", err)
	}
	if f.pool.begun != maxTrackingNumberRetries {
		t.Errorf("transactions begun: got %d, want %d", f.pool.begun, maxTrackingNumberRetries)
	}
}

func TestSplitOrderNotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, "NEW", 2, lineSeed{qty: "2", price: "10", groupable: true})
	f.hub.err = errors.New("hub stopped")
	f.kitchen.err = errors.New("broker down")

	if _, err := f.svc.SplitOrder(context.Background(), f.request("2")); err != nil {
		t.Fatalf("SplitOrder: %v", err)
	}
	if !f.tx.committed {
		t.Error("split should be committed even when notifications fail")
	}
}

func TestSplitOrderCommitFailure(t *testing.T) {
	f := newFixture(t, "NEW", 2, lineSeed{qty: "2", price: "10", groupable: true})
	f.tx.commitErr = errors.New("connection reset")

	_, err := f.svc.SplitOrder(context.Background(), f.request("1"))
	if !errors.Is(err, f.tx.commitErr) {
		t.Fatalf("error: got %v, want commit error", err)
	}
	if len(f.hub.events) != 0 {
		t.Error("no broadcast expected when commit fails")
	}
}

// --- PreviewToggle ---

func TestPreviewToggle(t *testing.T) {
	f := newFixture(t, "NEW", 2,
		lineSeed{qty: "3", price: "9.00", groupable: true},
		lineSeed{qty: "1", price: "5.00", groupable: false},
	)

	p, err := f.svc.PreviewToggle(context.Background(), PreviewRequest{
		OutletID:  f.outletID,
		OrderID:   f.orderID,
		LineID:    f.lineIDs[0],
		Selection: map[uuid.UUID]decimal.Decimal{f.lineIDs[0]: decimal.NewFromInt(1)},
	})
	if err != nil {
		t.Fatalf("PreviewToggle: %v", err)
	}

	if got := p.Lines[0].Quantity; got != "2 / 3" {
		t.Errorf("line quantity: got %q, want %q", got, "2 / 3")
	}
	if got := p.Lines[1].Quantity; got != "1" {
		t.Errorf("untouched line quantity: got %q, want %q", got, "1")
	}
	if !p.Total.Equal(decimal.RequireFromString("18")) {
		t.Errorf("total: got %s, want 18", p.Total)
	}
	if f.pool.begun != 0 {
		t.Error("preview must not open a transaction")
	}
}

func TestPreviewToggleWarnsOnAmbiguousCombo(t *testing.T) {
	f := newFixture(t, "NEW", 2,
		lineSeed{qty: "1", price: "30000", groupable: false},
		lineSeed{qty: "1", price: "0", groupable: false},
	)
	group := uuid.New()
	for i := range f.store.lines[f.orderID] {
		f.store.lines[f.orderID][i].ComboGroupID = pgtype.UUID{Bytes: group, Valid: true}
	}

	p, err := f.svc.PreviewToggle(context.Background(), PreviewRequest{
		OutletID: f.outletID,
		OrderID:  f.orderID,
		LineID:   f.lineIDs[1],
	})
	if err != nil {
		t.Fatalf("PreviewToggle: %v", err)
	}
	if len(p.Warnings) != 1 {
		t.Fatalf("warnings: got %v, want one", p.Warnings)
	}
	if !p.Selection.Quantity(f.lineIDs[0]).Equal(decimal.NewFromInt(1)) {
		t.Error("toggle should still fan out over the combo")
	}
}

func TestPreviewToggleErrors(t *testing.T) {
	f := newFixture(t, "NEW", 2, lineSeed{qty: "2", price: "10", groupable: true})

	_, err := f.svc.PreviewToggle(context.Background(), PreviewRequest{
		OutletID: f.outletID,
		OrderID:  f.orderID,
		LineID:   uuid.New(),
	})
	if !errors.Is(err, ErrLineNotFound) {
		t.Errorf("unknown line: got %v, want ErrLineNotFound", err)
	}

	_, err = f.svc.PreviewToggle(context.Background(), PreviewRequest{
		OutletID:  f.outletID,
		OrderID:   f.orderID,
		Selection: map[uuid.UUID]decimal.Decimal{f.lineIDs[0]: decimal.NewFromInt(-1)},
	})
	if !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("negative pick: got %v, want ErrInvalidSelection", err)
	}

	_, err = f.svc.PreviewToggle(context.Background(), PreviewRequest{
		OutletID: uuid.New(),
		OrderID:  f.orderID,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("other outlet: got %v, want ErrOrderNotFound", err)
	}
}
