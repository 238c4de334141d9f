// Package httpapi exposes the storefront over HTTP: the live catalog, the
// menu board, inventory, per-session carts and order submission.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kieracarman/dripos-storefront/internal/cart"
	"github.com/kieracarman/dripos-storefront/internal/catalog"
	"github.com/kieracarman/dripos-storefront/internal/inventory"
	"github.com/kieracarman/dripos-storefront/internal/menu"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/order"
	"github.com/kieracarman/dripos-storefront/internal/store"
)

// SessionHeader identifies the cart a request operates on
const SessionHeader = "X-Session-ID"

type Handler struct {
	catalog   *catalog.Cache
	carts     *cart.Sessions
	orders    *order.Committer
	inventory *inventory.Service
	history   store.History
	logger    *slog.Logger
}

func New(c *catalog.Cache, orders *order.Committer, inv *inventory.Service, history store.History, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		catalog: c,
		carts: cart.NewSessions(func(id string) int {
			return menu.Limit(c.Current().Data)(id)
		}),
		orders:    orders,
		inventory: inv,
		history:   history,
		logger:    logger,
	}
}

// ExpireSessions drops carts idle for longer than idle, checking every
// interval until ctx is done.
func (h *Handler) ExpireSessions(ctx context.Context, interval, idle time.Duration) {
	h.carts.RunExpiry(ctx, interval, idle)
}

// RequestTimeout bounds every endpoint except the catalog stream
const RequestTimeout = 60 * time.Second

// Routes mounts every endpoint on r
func (h *Handler) Routes(r chi.Router) {
	r.Get("/catalog/stream", h.StreamCatalog)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		h.requestRoutes(r)
	})
}

func (h *Handler) requestRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Get("/catalog", h.GetCatalog)
	r.Get("/menu", h.GetMenu)

	r.Route("/ingredients", func(r chi.Router) {
		r.Get("/", h.ListIngredients)
		r.Post("/", h.AddIngredient)
	})

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items/{menuItemID}", h.AdjustCart)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.ListOrders)
		r.Post("/", h.SubmitOrder)
	})
}

type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message,omitempty"`
	Shortages []models.Shortage `json:"shortages,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeFailure maps a domain error onto its status code
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	var stock *models.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "insufficient_stock",
			Message:   err.Error(),
			Shortages: stock.Shortages,
		})
	case errors.Is(err, cart.ErrCheckoutInProgress):
		writeError(w, http.StatusConflict, "checkout_in_progress", err.Error())
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, models.ErrLoad):
		writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", err.Error())
	case errors.Is(err, models.ErrMutationFailed):
		h.logger.Error("mutation failed", "error", err)
		writeError(w, http.StatusBadGateway, "mutation_failed", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing_session", SessionHeader+" header is required")
		return "", false
	}
	return id, true
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Catalog   string    `json:"catalog"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.catalog.Current()
	catalogStatus := "ready"
	switch {
	case state.Err != nil:
		catalogStatus = "error"
	case state.IsLoading:
		catalogStatus = "loading"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Catalog:   catalogStatus,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Current())
}

func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.Ready()
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, menu.Board(c))
}

func (h *Handler) ListIngredients(w http.ResponseWriter, r *http.Request) {
	ingredients, err := h.inventory.List(r.Context())
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ingredients)
}

// quantityText accepts a quantity sent as a JSON number or string
type quantityText string

func (q *quantityText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = quantityText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*q = quantityText(n.String())
	return nil
}

type AddIngredientRequest struct {
	Name     string       `json:"name"`
	Quantity quantityText `json:"quantity"`
}

func (h *Handler) AddIngredient(w http.ResponseWriter, r *http.Request) {
	var req AddIngredientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	result, err := h.inventory.AddIngredient(r.Context(), req.Name, string(req.Quantity))
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	status := http.StatusCreated
	if result.Merged {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

type CartResponse struct {
	SessionID string             `json:"sessionId"`
	Lines     []models.OrderLine `json:"lines"`
	Total     string             `json:"total"`
}

func (h *Handler) cartResponse(session string, c *cart.Cart) CartResponse {
	lines := c.Lines()
	if lines == nil {
		lines = []models.OrderLine{}
	}
	return CartResponse{
		SessionID: session,
		Lines:     lines,
		Total:     order.Total(h.catalog.Current().Data, lines).StringFixed(2),
	}
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.cartResponse(session, h.carts.Get(session)))
}

type AdjustCartRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) AdjustCart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req AdjustCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	menuItemID := chi.URLParam(r, "menuItemID")
	if _, err := h.catalog.Ready(); err != nil {
		h.writeFailure(w, err)
		return
	}
	if _, found := h.catalog.Current().Data.MenuItem(menuItemID); !found {
		writeError(w, http.StatusNotFound, "not_found", "Menu item not found")
		return
	}

	c := h.carts.Get(session)
	c.Adjust(menuItemID, req.Delta)
	writeJSON(w, http.StatusOK, h.cartResponse(session, c))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.carts.Drop(session)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	placed, err := h.orders.Submit(r.Context(), h.carts.Get(session))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, placed)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.history.Orders(r.Context())
	if err != nil {
		h.writeFailure(w, &models.LoadError{Err: err})
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}
