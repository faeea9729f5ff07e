package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/splitbill/internal/middleware"
	"github.com/kiwari-pos/splitbill/internal/service"
	"github.com/kiwari-pos/splitbill/internal/split"
	"github.com/shopspring/decimal"
)

// SplitServicer defines the service methods needed by split handlers.
// Satisfied by *service.SplitService; narrow interface for testability.
type SplitServicer interface {
	PreviewToggle(ctx context.Context, req service.PreviewRequest) (*service.Preview, error)
	SplitOrder(ctx context.Context, req service.SplitRequest) (*service.SplitResult, error)
}

// SplitHandler handles the split bill endpoints.
type SplitHandler struct {
	svc SplitServicer
}

// NewSplitHandler creates a new SplitHandler.
func NewSplitHandler(svc SplitServicer) *SplitHandler {
	return &SplitHandler{svc: svc}
}

// RegisterRoutes registers split endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/orders
func (h *SplitHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{id}/split", h.Preview)
	r.Post("/{id}/split/toggle", h.Toggle)
	r.Post("/{id}/split", h.Split)
}

// --- Request / Response types ---

type toggleRequest struct {
	LineID    string            `json:"line_id"`
	Selection map[string]string `json:"selection"`
}

type splitRequest struct {
	Selection map[string]string `json:"selection"`
}

type splitLineResponse struct {
	LineID        uuid.UUID `json:"line_id"`
	ProductName   string    `json:"product_name"`
	Quantity      string    `json:"quantity"`
	UnitPrice     string    `json:"unit_price"`
	Price         string    `json:"price"`
	Selected      string    `json:"selected"`
	SelectedPrice string    `json:"selected_price"`
	IsComboParent bool      `json:"is_combo_parent"`
	ComboGroupID  *string   `json:"combo_group_id"`
}

type splitPreviewResponse struct {
	OrderID        uuid.UUID           `json:"order_id"`
	TrackingNumber string              `json:"tracking_number"`
	TableName      *string             `json:"table_name"`
	Lines          []splitLineResponse `json:"lines"`
	Selection      map[string]string   `json:"selection"`
	Total          string              `json:"total"`
	Warnings       []string            `json:"warnings"`
}

type orderLineResponse struct {
	ID               uuid.UUID `json:"id"`
	ProductID        uuid.UUID `json:"product_id"`
	ProductName      string    `json:"product_name"`
	Quantity         string    `json:"quantity"`
	UnitPriceWithTax string    `json:"unit_price_with_tax"`
	PriceWithTax     string    `json:"price_with_tax"`
	PreparationKey   string    `json:"preparation_key"`
	QuantitySent     string    `json:"quantity_sent"`
	ComboGroupID     *string   `json:"combo_group_id"`
	IsComboParent    bool      `json:"is_combo_parent"`
}

type splitOrderResponse struct {
	ID             uuid.UUID           `json:"id"`
	OutletID       uuid.UUID           `json:"outlet_id"`
	TrackingNumber string              `json:"tracking_number"`
	TableName      *string             `json:"table_name"`
	Note           *string             `json:"note"`
	Status         string              `json:"status"`
	CustomerCount  int                 `json:"customer_count"`
	SplitFromID    *string             `json:"split_from_id"`
	Total          string              `json:"total"`
	Lines          []orderLineResponse `json:"lines"`
}

type splitResultResponse struct {
	Original splitOrderResponse `json:"original"`
	New      splitOrderResponse `json:"new"`
}

// --- Handlers ---

// Preview handles GET /outlets/{oid}/orders/{id}/split.
func (h *SplitHandler) Preview(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}

	p, err := h.svc.PreviewToggle(r.Context(), service.PreviewRequest{
		OutletID: outletID,
		OrderID:  orderID,
	})
	if err != nil {
		writeSplitError(w, "preview split", err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitPreviewResponse(p))
}

// Toggle handles POST /outlets/{oid}/orders/{id}/split/toggle.
func (h *SplitHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	lineID, err := uuid.Parse(req.LineID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line_id"})
		return
	}

	selection, err := parseSelection(req.Selection)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	p, err := h.svc.PreviewToggle(r.Context(), service.PreviewRequest{
		OutletID:  outletID,
		OrderID:   orderID,
		LineID:    lineID,
		Selection: selection,
	})
	if err != nil {
		writeSplitError(w, "toggle split line", err)
		return
	}
	writeJSON(w, http.StatusOK, toSplitPreviewResponse(p))
}

// Split handles POST /outlets/{oid}/orders/{id}/split.
func (h *SplitHandler) Split(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Selection) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "selection is required"})
		return
	}

	selection, err := parseSelection(req.Selection)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.svc.SplitOrder(r.Context(), service.SplitRequest{
		OutletID:    outletID,
		OrderID:     orderID,
		RequestedBy: claims.UserID,
		Selection:   selection,
	})
	if err != nil {
		writeSplitError(w, "split order", err)
		return
	}

	writeJSON(w, http.StatusCreated, splitResultResponse{
		Original: toSplitOrderResponse(result.Original),
		New:      toSplitOrderResponse(result.New),
	})
}

// --- Helpers ---

func parseOrderPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return outletID, orderID, true
}

var errInvalidSelectionBody = errors.New("selection must map line IDs to decimal quantities")

func parseSelection(in map[string]string) (map[uuid.UUID]decimal.Decimal, error) {
	out := make(map[uuid.UUID]decimal.Decimal, len(in))
	for k, v := range in {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, errInvalidSelectionBody
		}
		qty, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errInvalidSelectionBody
		}
		out[id] = qty
	}
	return out, nil
}

// writeSplitError maps service errors to HTTP status codes.
func writeSplitError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrLineNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrEmptySelection), errors.Is(err, service.ErrInvalidSelection):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrOrderClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: %s: %v", op, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}

func toSplitPreviewResponse(p *service.Preview) splitPreviewResponse {
	resp := splitPreviewResponse{
		OrderID:        p.Order.ID,
		TrackingNumber: p.Order.TrackingNumber,
		TableName:      stringPtr(p.Order.TableName),
		Lines:          make([]splitLineResponse, len(p.Lines)),
		Selection:      make(map[string]string),
		Total:          p.Total.StringFixed(2),
		Warnings:       p.Warnings,
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	for i, d := range p.Lines {
		resp.Lines[i] = splitLineResponse{
			LineID:        d.LineID,
			ProductName:   d.ProductName,
			Quantity:      d.Quantity,
			UnitPrice:     d.UnitPrice,
			Price:         d.Price,
			Selected:      d.Selected.String(),
			SelectedPrice: d.SelectedPrice.StringFixed(2),
			IsComboParent: d.IsComboParent,
			ComboGroupID:  nullUUIDPtr(d.ComboGroupID),
		}
	}
	for id, qty := range p.Selection.Quantities() {
		resp.Selection[id.String()] = qty.String()
	}
	return resp
}

func toSplitOrderResponse(o *split.Order) splitOrderResponse {
	resp := splitOrderResponse{
		ID:             o.ID,
		OutletID:       o.OutletID,
		TrackingNumber: o.TrackingNumber,
		TableName:      stringPtr(o.TableName),
		Note:           stringPtr(o.Note),
		Status:         o.Status,
		CustomerCount:  o.CustomerCount,
		SplitFromID:    nullUUIDPtr(o.SplitFromID),
		Lines:          make([]orderLineResponse, len(o.Lines)),
	}

	total := decimal.Zero
	for i, l := range o.Lines {
		total = total.Add(l.PriceWithTax())
		resp.Lines[i] = orderLineResponse{
			ID:               l.ID,
			ProductID:        l.ProductID,
			ProductName:      l.ProductName,
			Quantity:         l.Quantity.String(),
			UnitPriceWithTax: l.UnitPriceWithTax.StringFixed(2),
			PriceWithTax:     l.PriceWithTax().StringFixed(2),
			PreparationKey:   l.PreparationKey,
			QuantitySent:     o.SentQuantity(l).String(),
			ComboGroupID:     nullUUIDPtr(l.ComboGroupID),
			IsComboParent:    l.IsComboParent,
		}
	}
	resp.Total = total.StringFixed(2)
	return resp
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUIDPtr(id uuid.NullUUID) *string {
	if !id.Valid {
		return nil
	}
	s := id.UUID.String()
	return &s
}
