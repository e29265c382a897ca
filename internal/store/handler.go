package store

import (
	"net/http"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
)

type Handler struct {
	store *StoreService
}

func NewHandler(store *StoreService) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Register(r *mux.Router, auth *common.Authenticator) {
	protected := func(f http.HandlerFunc) http.Handler { return auth.RequireAuth(f) }

	r.Handle("/products", auth.OptionalAuth(http.HandlerFunc(h.listProducts))).Methods(http.MethodGet)
	r.Handle("/products", protected(h.createProduct)).Methods(http.MethodPost)
	r.Handle("/products/{id}", auth.OptionalAuth(http.HandlerFunc(h.getProduct))).Methods(http.MethodGet)
	r.Handle("/products/{id}", protected(h.updateProduct)).Methods(http.MethodPut)
	r.Handle("/products/{id}", protected(h.deactivateProduct)).Methods(http.MethodDelete)

	r.Handle("/checkout", protected(h.checkout)).Methods(http.MethodPost)
	r.Handle("/orders", protected(h.listOrders)).Methods(http.MethodGet)
	r.Handle("/orders/{id}", protected(h.getOrder)).Methods(http.MethodGet)
	r.Handle("/orders/{id}/cancel", protected(h.cancelOrder)).Methods(http.MethodPost)
	r.Handle("/sales", protected(h.listSales)).Methods(http.MethodGet)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	var q ProductQuery
	if err := common.DecodeQuery(r, &q); err != nil {
		common.WriteError(w, err)
		return
	}
	page, err := h.store.ListProducts(r.Context(), q)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var in ProductInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.store.CreateProduct(r.Context(), common.UserIDFrom(r.Context()), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProduct(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var upd ProductUpdate
	if err := common.DecodeJSON(r, &upd); err != nil {
		common.WriteError(w, err)
		return
	}
	p, err := h.store.UpdateProduct(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), upd)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeactivateProduct(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.store.Checkout(r.Context(), common.UserIDFrom(r.Context()), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.store.ListOrders(r.Context(), common.UserIDFrom(r.Context()), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.store.ListCreatorSales(r.Context(), common.UserIDFrom(r.Context()), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.GetOrder(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, order)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.CancelOrder(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, order)
}
