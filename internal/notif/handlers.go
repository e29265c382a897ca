package notif

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
)

type NotificationHandler struct {
	service *NotificationService
}

func NewNotificationHandler(service *NotificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

func (h *NotificationHandler) Register(r *mux.Router, auth *common.Authenticator) {
	protected := func(f http.HandlerFunc) http.Handler { return auth.RequireAuth(f) }

	r.Handle("/notifications", protected(h.list)).Methods(http.MethodGet)
	r.Handle("/notifications/unread-count", protected(h.unreadCount)).Methods(http.MethodGet)
	r.Handle("/notifications/read-all", protected(h.markAllRead)).Methods(http.MethodPut)
	r.Handle("/notifications/{id}/read", protected(h.markRead)).Methods(http.MethodPut)
	r.Handle("/notifications/{id}", protected(h.delete)).Methods(http.MethodDelete)

	r.Handle("/notifications/send", auth.RequireAdmin(http.HandlerFunc(h.send))).Methods(http.MethodPost)
	r.Handle("/notifications/schedule", auth.RequireAdmin(http.HandlerFunc(h.schedule))).Methods(http.MethodPost)
}

// SendRequest is the admin payload for pushing a notification to one user.
type SendRequest struct {
	UserID      string                      `json:"userId" validate:"required"`
	Type        common.NotificationType     `json:"type"`
	Header      string                      `json:"header" validate:"required,max=255"`
	Content     string                      `json:"content" validate:"max=2000"`
	ImageURL    *string                     `json:"imageUrl" validate:"omitempty,url"`
	Priority    int                         `json:"priority" validate:"omitempty,min=1,max=5"`
	ScheduledAt *time.Time                  `json:"scheduledAt"`
	Metadata    common.NotificationMetadata `json:"metadata"`
}

func (req SendRequest) event() common.NotificationEvent {
	priority := req.Priority
	if priority == 0 {
		priority = 3
	}
	typ := req.Type
	if typ == "" {
		typ = common.SystemType
	}
	return common.NotificationEvent{
		Type:        typ,
		UserID:      req.UserID,
		Header:      req.Header,
		Content:     req.Content,
		ImageURL:    req.ImageURL,
		ScheduledAt: req.ScheduledAt,
		Priority:    priority,
		Metadata:    req.Metadata,
	}
}

func (h *NotificationHandler) list(w http.ResponseWriter, r *http.Request) {
	userID := common.UserIDFrom(r.Context())
	limit := common.QueryInt(r, "limit", defaultListLimit)
	offset := common.QueryInt(r, "offset", 0)

	notifications, err := h.service.GetUserNotifications(r.Context(), userID, limit, offset)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *NotificationHandler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (h *NotificationHandler) markRead(w http.ResponseWriter, r *http.Request) {
	err := h.service.MarkAsRead(r.Context(), common.PathVar(r, "id"), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *NotificationHandler) markAllRead(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.MarkAllRead(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *NotificationHandler) delete(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), common.PathVar(r, "id"), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.ScheduledAt = nil
	if err := h.service.SendNotification(r.Context(), req.event()); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

func (h *NotificationHandler) schedule(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	n, err := h.service.ScheduleNotification(r.Context(), req.event())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":          n.ID,
		"scheduledAt": n.ScheduledAt,
	})
}
