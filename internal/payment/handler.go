package payment

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
)

// maxWebhookBody bounds the provider payload read before signature checks.
const maxWebhookBody = 1 << 16

type Handler struct {
	payments *PaymentService
}

func NewHandler(payments *PaymentService) *Handler {
	return &Handler{payments: payments}
}

func (h *Handler) Register(r *mux.Router, auth *common.Authenticator) {
	protected := func(f http.HandlerFunc) http.Handler { return auth.RequireAuth(f) }

	r.Handle("/create-payment-intent", protected(h.createPaymentIntent)).Methods(http.MethodPost)
	r.Handle("/create-stripe-account", protected(h.createAccount)).Methods(http.MethodPost)
	r.Handle("/create-account-link", protected(h.createAccountLink)).Methods(http.MethodPost)
	r.Handle("/create-payout", protected(h.createPayout)).Methods(http.MethodPost)
	r.Handle("/payments/status", protected(h.status)).Methods(http.MethodGet)
	r.Handle("/payments/balance", protected(h.balance)).Methods(http.MethodGet)
	r.Handle("/payments/earnings", protected(h.earnings)).Methods(http.MethodGet)
	r.Handle("/payments/payouts", protected(h.payouts)).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/stripe", h.webhook).Methods(http.MethodPost)
}

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req TipRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.payments.CreatePaymentIntent(r.Context(), common.UserIDFrom(r.Context()), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email" validate:"omitempty,email"`
		Country string `json:"country" validate:"omitempty,len=2"`
	}
	if r.ContentLength > 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	id, err := h.payments.CreateConnectAccount(r.Context(), common.UserIDFrom(r.Context()), req.Email, req.Country)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]string{"accountId": id})
}

func (h *Handler) createAccountLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if r.ContentLength > 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	link, err := h.payments.CreateAccountLink(r.Context(), common.UserIDFrom(r.Context()), req.Type)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, link)
}

func (h *Handler) createPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	payout, err := h.payments.CreatePayout(r.Context(), common.UserIDFrom(r.Context()), req.Amount)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, payout)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.payments.AccountStatus(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.payments.Balance(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, bal)
}

func (h *Handler) earnings(w http.ResponseWriter, r *http.Request) {
	e, err := h.payments.EarningsSummary(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) payouts(w http.ResponseWriter, r *http.Request) {
	list, err := h.payments.ListPayouts(r.Context(), common.UserIDFrom(r.Context()), common.QueryInt(r, "limit", payoutListLimit))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"payouts": list})
}

// webhook needs the raw body for signature verification.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.WriteError(w, common.WrapError(common.ErrInvalidInput, err, "unreadable body"))
		return
	}
	if err := h.payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		common.Log.WithError(err).Warn("stripe webhook rejected")
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
