package admin

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router, auth *common.Authenticator) {
	r.Handle("/admin/stats", auth.RequireAdmin(http.HandlerFunc(h.stats))).Methods(http.MethodGet)
	r.Handle("/admin/posts/{id}/hide", auth.RequireAdmin(http.HandlerFunc(h.hidePost))).Methods(http.MethodPost)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Stats(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, s)
}

func (h *Handler) hidePost(w http.ResponseWriter, r *http.Request) {
	postID := common.PathVar(r, "id")
	if err := h.service.HidePost(r.Context(), postID); err != nil {
		common.WriteError(w, err)
		return
	}
	common.Log.WithFields(logrus.Fields{
		"post_id": postID,
		"admin":   common.UserIDFrom(r.Context()),
	}).Info("Post hidden by admin")
	w.WriteHeader(http.StatusNoContent)
}
