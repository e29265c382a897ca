package store

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplifi/internal/common"
)

func TestHandler_CheckoutFlow(t *testing.T) {
	f := newStoreFixture(t)
	tokens := common.NewTokenManager("test-secret", time.Hour)
	r := mux.NewRouter()
	NewHandler(f.svc).Register(r, common.NewAuthenticator(tokens))

	do := func(method, path, user string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if user != "" {
			tok, err := tokens.GenerateToken(user, user, false)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/products", "", map[string]any{"name": "Tee", "price": 2000})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(http.MethodPost, "/products", "alice", map[string]any{"name": "Tee", "price": 2000, "category": "apparel"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var product struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))

	rec = do(http.MethodGet, "/products?category=apparel&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), product.ID)

	rec = do(http.MethodGet, "/products?limit=500", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPut, "/products/"+product.ID, "bob", map[string]any{"price": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(http.MethodPost, "/checkout", "bob", map[string]any{
		"items": []map[string]any{{"productId": product.ID, "quantity": 1}},
		"shippingAddress": map[string]any{
			"name": "Bob", "line1": "1 Main St", "city": "Springfield", "postalCode": "12345", "country": "GB",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res struct {
		ClientSecret string `json:"clientSecret"`
		Order        struct {
			ID    string `json:"id"`
			Tax   int64  `json:"tax"`
			Total int64  `json:"total"`
		} `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(400), res.Order.Tax)
	assert.Equal(t, int64(2999), res.Order.Total)
	assert.NotEmpty(t, res.ClientSecret)

	rec = do(http.MethodGet, "/orders", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), res.Order.ID)

	rec = do(http.MethodGet, "/orders/"+res.Order.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodGet, "/sales", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), res.Order.ID)

	rec = do(http.MethodPost, "/orders/"+res.Order.ID+"/cancel", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"canceled"`)

	rec = do(http.MethodDelete, "/products/"+product.ID, "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(http.MethodGet, "/products/"+product.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
