package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieracarman/dripos-storefront/internal/batch"
	"github.com/kieracarman/dripos-storefront/internal/catalog"
	"github.com/kieracarman/dripos-storefront/internal/inventory"
	"github.com/kieracarman/dripos-storefront/internal/menu"
	"github.com/kieracarman/dripos-storefront/internal/models"
	"github.com/kieracarman/dripos-storefront/internal/order"
	"github.com/kieracarman/dripos-storefront/internal/store/memory"
)

type testServer struct {
	*httptest.Server
	store *memory.Store
	cache *catalog.Cache
	items map[string]string
}

func newTestServer(t *testing.T, loaded bool) *testServer {
	t.Helper()
	s := memory.New(nil)

	var b batch.Builder
	menu.SampleData(&b)
	compiled, err := b.Compile(nil)
	require.NoError(t, err)
	require.NoError(t, s.Apply(context.Background(), compiled))

	cache := catalog.New(s)
	if loaded {
		require.NoError(t, cache.Refresh(context.Background()))
	}

	h := New(cache, order.NewCommitter(cache, s), inventory.NewService(s, nil), s, nil)
	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	items := map[string]string{}
	menuItems, err := s.MenuItems(context.Background())
	require.NoError(t, err)
	for _, item := range menuItems {
		items[item.Name] = item.ID
	}
	return &testServer{Server: srv, store: s, cache: cache, items: items}
}

func (ts *testServer) do(t *testing.T, method, path, session string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, true)
	resp := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ready", body.Catalog)
}

func TestMenuBoard(t *testing.T) {
	ts := newTestServer(t, true)
	resp := ts.do(t, http.MethodGet, "/menu", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	board := decode[[]menu.Entry](t, resp)
	require.Len(t, board, 2)
	assert.Equal(t, "Grilled Eel Bowl", board[0].Item.Name)
	assert.Equal(t, 2, board[0].MaxOrderable)
	assert.Equal(t, "Eel Sushi Roll", board[1].Item.Name)
	assert.Equal(t, 4, board[1].MaxOrderable)
}

func TestMenuWhileCatalogLoading(t *testing.T) {
	ts := newTestServer(t, false)

	resp := ts.do(t, http.MethodGet, "/menu", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/catalog", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decode[map[string]any](t, resp)
	assert.Equal(t, true, state["isLoading"])
}

func TestAddIngredient(t *testing.T) {
	ts := newTestServer(t, true)

	resp := ts.do(t, http.MethodPost, "/ingredients", "", map[string]any{"name": "Rice", "quantity": "5"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[inventory.Result](t, resp)
	assert.False(t, created.Merged)

	resp = ts.do(t, http.MethodPost, "/ingredients", "", map[string]any{"name": " rice ", "quantity": 2.5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	merged := decode[inventory.Result](t, resp)
	assert.True(t, merged.Merged)
	assert.Equal(t, created.ID, merged.ID)

	resp = ts.do(t, http.MethodGet, "/ingredients", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ingredients := decode[[]models.Ingredient](t, resp)
	require.Len(t, ingredients, 2)
	assert.Equal(t, "7.5", ingredients[1].Quantity.String())
}

func TestAddIngredientRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, true)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"quantity": "1"}},
		{"not a number", map[string]any{"name": "Rice", "quantity": "lots"}},
		{"negative", map[string]any{"name": "Rice", "quantity": -1}},
		{"missing quantity", map[string]any{"name": "Rice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/ingredients", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "invalid_input", decode[ErrorResponse](t, resp).Error)
		})
	}
}

func TestCartRequiresSession(t *testing.T) {
	ts := newTestServer(t, true)
	resp := ts.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCartClampsToAvailability(t *testing.T) {
	ts := newTestServer(t, true)
	bowl := ts.items["Grilled Eel Bowl"]

	resp := ts.do(t, http.MethodPost, "/cart/items/"+bowl, "s1", AdjustCartRequest{Delta: 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[CartResponse](t, resp)
	require.Len(t, body.Lines, 1)
	assert.Equal(t, 2, body.Lines[0].Quantity)
	assert.Equal(t, "37.98", body.Total)

	resp = ts.do(t, http.MethodPost, "/cart/items/"+bowl, "s1", AdjustCartRequest{Delta: -9})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[CartResponse](t, resp).Lines)

	resp = ts.do(t, http.MethodPost, "/cart/items/nope", "s1", AdjustCartRequest{Delta: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClearCart(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(t, http.MethodPost, "/cart/items/"+ts.items["Eel Sushi Roll"], "s1", AdjustCartRequest{Delta: 1})

	resp := ts.do(t, http.MethodDelete, "/cart", "s1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/cart", "s1", nil)
	assert.Empty(t, decode[CartResponse](t, resp).Lines)
}

func TestSubmitOrder(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(t, http.MethodPost, "/cart/items/"+ts.items["Grilled Eel Bowl"], "s1", AdjustCartRequest{Delta: 1})

	resp := ts.do(t, http.MethodPost, "/orders", "s1", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[models.Order](t, resp)
	assert.Equal(t, models.OrderCompleted, placed.Status)
	assert.Equal(t, "18.99", placed.TotalAmount.StringFixed(2))

	resp = ts.do(t, http.MethodGet, "/cart", "s1", nil)
	assert.Empty(t, decode[CartResponse](t, resp).Lines)

	resp = ts.do(t, http.MethodGet, "/orders", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	orders := decode[[]models.Order](t, resp)
	require.Len(t, orders, 1)
	assert.Equal(t, placed.ID, orders[0].ID)

	ingredients, err := ts.store.Ingredients(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", ingredients[0].Quantity.String())
}

func TestSubmitEmptyCart(t *testing.T) {
	ts := newTestServer(t, true)
	resp := ts.do(t, http.MethodPost, "/orders", "s1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitStaleCartConflicts(t *testing.T) {
	ts := newTestServer(t, true)
	ts.do(t, http.MethodPost, "/cart/items/"+ts.items["Grilled Eel Bowl"], "first", AdjustCartRequest{Delta: 2})
	ts.do(t, http.MethodPost, "/cart/items/"+ts.items["Eel Sushi Roll"], "second", AdjustCartRequest{Delta: 4})

	resp := ts.do(t, http.MethodPost, "/orders", "first", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, ts.cache.Refresh(context.Background()))

	resp = ts.do(t, http.MethodPost, "/orders", "second", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, "insufficient_stock", body.Error)
	require.Len(t, body.Shortages, 1)
	assert.Equal(t, models.Shortage{
		MenuItemID: ts.items["Eel Sushi Roll"],
		Name:       "Eel Sushi Roll",
		Requested:  4,
		Available:  0,
	}, body.Shortages[0])

	resp = ts.do(t, http.MethodGet, "/cart", "second", nil)
	assert.Len(t, decode[CartResponse](t, resp).Lines, 1)
}

type streamedState struct {
	IsLoading bool           `json:"isLoading"`
	Error     *string        `json:"error"`
	Data      models.Catalog `json:"data"`
	Version   uint64         `json:"version"`
}

func TestStreamCatalog(t *testing.T) {
	ts := newTestServer(t, true)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/catalog/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first streamedState
	require.NoError(t, conn.ReadJSON(&first))
	assert.False(t, first.IsLoading)
	assert.Nil(t, first.Error)
	assert.Len(t, first.Data.MenuItems, 2)

	require.Eventually(t, func() bool { return ts.cache.Watchers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, ts.cache.Refresh(context.Background()))

	var next streamedState
	require.NoError(t, conn.ReadJSON(&next))
	assert.Greater(t, next.Version, first.Version)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return ts.cache.Watchers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
