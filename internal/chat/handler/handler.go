// Package handler exposes conversations and messages over REST.
package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"amplifi/internal/chat/service"
	"amplifi/internal/common"
)

type ChatHandler struct {
	chatService service.ChatService
}

func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Register mounts every chat route behind auth.
func (h *ChatHandler) Register(r *mux.Router, auth *common.Authenticator) {
	s := protected{r: r, auth: auth}

	s.handle("/conversations", h.listConversations).Methods(http.MethodGet)
	s.handle("/conversations", h.startConversation).Methods(http.MethodPost)
	s.handle("/conversations/group", h.createGroup).Methods(http.MethodPost)
	s.handle("/conversations/{id}", h.getConversation).Methods(http.MethodGet)
	s.handle("/conversations/{id}/participants", h.addParticipant).Methods(http.MethodPost)
	s.handle("/conversations/{id}/participants/me", h.leave).Methods(http.MethodDelete)
	s.handle("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	s.handle("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	s.handle("/conversations/{id}/paid-messages", h.sendPaidMessage).Methods(http.MethodPost)
	s.handle("/conversations/{id}/read", h.markRead).Methods(http.MethodPost)
	s.handle("/messages/{id}", h.editMessage).Methods(http.MethodPut)
	s.handle("/messages/{id}", h.deleteMessage).Methods(http.MethodDelete)
}

type protected struct {
	r    *mux.Router
	auth *common.Authenticator
}

func (p protected) handle(path string, fn http.HandlerFunc) *mux.Route {
	return p.r.Handle(path, p.auth.RequireAuth(fn))
}

func (h *ChatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.chatService.ListConversations(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *ChatHandler) startConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	conv, err := h.chatService.StartConversation(r.Context(), common.UserIDFrom(r.Context()), req.UserID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string   `json:"name" validate:"required"`
		MemberIDs []string `json:"memberIds" validate:"required,min=2"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	conv, err := h.chatService.CreateGroup(r.Context(), common.UserIDFrom(r.Context()), req.Name, req.MemberIDs)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatService.GetConversation(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, conv)
}

func (h *ChatHandler) addParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	err := h.chatService.AddParticipant(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), req.UserID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *ChatHandler) leave(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.LeaveConversation(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *ChatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.chatService.ListMessages(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

type sendMessageRequest struct {
	Text      string  `json:"text" validate:"required"`
	ReplyToID *string `json:"replyToId"`
}

func (h *ChatHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	msg, err := h.chatService.SendMessage(r.Context(), common.PathVar(r, "id"), common.UserIDFrom(r.Context()), req.Text, req.ReplyToID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) sendPaidMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipientId" validate:"required"`
		Text        string `json:"text" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.chatService.SendPaidMessage(r.Context(), common.PathVar(r, "id"), common.UserIDFrom(r.Context()), req.RecipientID, req.Text)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, res)
}

func (h *ChatHandler) markRead(w http.ResponseWriter, r *http.Request) {
	ids, err := h.chatService.MarkRead(r.Context(), common.PathVar(r, "id"), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"messageIds": ids})
}

func (h *ChatHandler) editMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	msg, err := h.chatService.EditMessage(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), req.Text)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, msg)
}

func (h *ChatHandler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteMessage(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}
