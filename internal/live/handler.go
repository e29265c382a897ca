package live

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
)

type Handler struct {
	live *LiveService
}

func NewHandler(live *LiveService) *Handler {
	return &Handler{live: live}
}

func (h *Handler) Register(r *mux.Router, auth *common.Authenticator) {
	r.Handle("/streams", auth.OptionalAuth(http.HandlerFunc(h.listLive))).Methods(http.MethodGet)
	r.Handle("/streams", auth.RequireAuth(http.HandlerFunc(h.start))).Methods(http.MethodPost)
	r.Handle("/streams/{id}", auth.OptionalAuth(http.HandlerFunc(h.get))).Methods(http.MethodGet)
	r.Handle("/streams/{id}/end", auth.RequireAuth(http.HandlerFunc(h.end))).Methods(http.MethodPost)
	r.Handle("/streams/{id}/heartbeat", auth.RequireAuth(http.HandlerFunc(h.heartbeat))).Methods(http.MethodPost)
	r.Handle("/streams/{id}/join", auth.RequireAuth(http.HandlerFunc(h.join))).Methods(http.MethodPost)
	r.Handle("/streams/{id}/leave", auth.RequireAuth(http.HandlerFunc(h.leave))).Methods(http.MethodPost)
	r.Handle("/streams/{id}/chat", auth.OptionalAuth(http.HandlerFunc(h.listChat))).Methods(http.MethodGet)
	r.Handle("/streams/{id}/chat", auth.RequireAuth(http.HandlerFunc(h.sendChat))).Methods(http.MethodPost)
	r.Handle("/streams/{id}/timeouts", auth.RequireAuth(http.HandlerFunc(h.timeout))).Methods(http.MethodPost)
}

func (h *Handler) listLive(w http.ResponseWriter, r *http.Request) {
	streams, err := h.live.ListLive(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req NewStream
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	stream, err := h.live.StartStream(r.Context(), common.UserIDFrom(r.Context()), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, stream)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	stream, err := h.live.GetStream(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, stream)
}

func (h *Handler) end(w http.ResponseWriter, r *http.Request) {
	stream, err := h.live.EndStream(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, stream)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.live.Heartbeat(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	n, err := h.live.JoinStream(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"viewers": n})
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	n, err := h.live.LeaveStream(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"viewers": n})
}

func (h *Handler) listChat(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.live.ListChat(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) sendChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	msg, err := h.live.SendChat(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), req.Text)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, msg)
}

func (h *Handler) timeout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  string `json:"userId" validate:"required"`
		Seconds int    `json:"seconds" validate:"gte=0"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	t, err := h.live.TimeoutUser(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), req.UserID,
		time.Duration(req.Seconds)*time.Second)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, t)
}
