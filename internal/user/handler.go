package user

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

// Handler exposes the user service over the REST API.
type Handler struct {
	userService UserService
}

func NewHandler(userService UserService) *Handler {
	return &Handler{userService: userService}
}

// Register mounts the routes. /users/me and /users/search are registered before
// /users/{id} so the literal paths win.
func (h *Handler) Register(r *mux.Router, auth *common.Authenticator) {
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/firebase", h.loginFirebase).Methods(http.MethodPost)

	r.Handle("/users/me", auth.RequireAuth(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	r.Handle("/users/me", auth.RequireAuth(http.HandlerFunc(h.updateMe))).Methods(http.MethodPut)
	r.Handle("/users/me/avatar", auth.RequireAuth(http.HandlerFunc(h.uploadAvatar))).Methods(http.MethodPost)
	r.Handle("/users/me/devices", auth.RequireAuth(http.HandlerFunc(h.listDevices))).Methods(http.MethodGet)
	r.Handle("/users/me/devices", auth.RequireAuth(http.HandlerFunc(h.registerDevice))).Methods(http.MethodPost)
	r.Handle("/users/me/devices/{token}", auth.RequireAuth(http.HandlerFunc(h.removeDevice))).Methods(http.MethodDelete)
	r.Handle("/users/me/push-subscriptions", auth.RequireAuth(http.HandlerFunc(h.saveSubscription))).Methods(http.MethodPost)
	r.Handle("/users/me/push-subscriptions", auth.RequireAuth(http.HandlerFunc(h.deleteSubscription))).Methods(http.MethodDelete)
	r.HandleFunc("/users/search", h.search).Methods(http.MethodGet)
	r.HandleFunc("/users/by-username/{username}", h.byUsername).Methods(http.MethodGet)

	r.Handle("/users/{id}", auth.OptionalAuth(http.HandlerFunc(h.profile))).Methods(http.MethodGet)
	r.Handle("/users/{id}/follow", auth.RequireAuth(http.HandlerFunc(h.follow))).Methods(http.MethodPost)
	r.Handle("/users/{id}/follow", auth.RequireAuth(http.HandlerFunc(h.unfollow))).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id}/followers", h.followers).Methods(http.MethodGet)
	r.HandleFunc("/users/{id}/following", h.following).Methods(http.MethodGet)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.userService.Register(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, res)
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" {
		identifier = req.Email
	}
	res, err := h.userService.Login(r.Context(), identifier, req.Password)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) loginFirebase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.userService.LoginWithFirebase(r.Context(), req.IDToken)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetProfile(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var upd ProfileUpdate
	if err := common.DecodeJSON(r, &upd); err != nil {
		common.WriteError(w, err)
		return
	}
	user, err := h.userService.UpdateProfile(r.Context(), common.UserIDFrom(r.Context()), upd)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		common.WriteError(w, common.WrapError(common.ErrInvalidInput, err, "expected multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		common.WriteError(w, common.Invalid("file is required"))
		return
	}
	defer file.Close()

	user, err := h.userService.UploadAvatar(r.Context(), common.UserIDFrom(r.Context()), header.Filename, file)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, user)
}

type profileResponse struct {
	*dbmysql.User
	IsFollowing bool `json:"isFollowing"`
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	id := common.PathVar(r, "id")
	user, err := h.userService.GetProfile(r.Context(), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	following, err := h.userService.IsFollowing(r.Context(), common.UserIDFrom(r.Context()), id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	public := *user
	public.Email = ""
	common.WriteJSON(w, http.StatusOK, profileResponse{User: &public, IsFollowing: following})
}

func (h *Handler) byUsername(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByUsername(r.Context(), common.PathVar(r, "username"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	public := *user
	public.Email = ""
	common.WriteJSON(w, http.StatusOK, &public)
}

type searchQuery struct {
	Q     string `schema:"q"`
	Limit int    `schema:"limit" validate:"gte=0,lte=100"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var q searchQuery
	if err := common.DecodeQuery(r, &q); err != nil {
		common.WriteError(w, err)
		return
	}
	users, err := h.userService.SearchUsers(r.Context(), q.Q, q.Limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	for _, u := range users {
		u.Email = ""
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) follow(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Follow(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "following": true})
}

func (h *Handler) unfollow(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.Unfollow(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "following": false})
}

func (h *Handler) followers(w http.ResponseWriter, r *http.Request) {
	h.connections(w, r, h.userService.Followers)
}

func (h *Handler) following(w http.ResponseWriter, r *http.Request) {
	h.connections(w, r, h.userService.Following)
}

func (h *Handler) connections(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, id string, p common.PageRequest) (common.Page[Connection], error)) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := list(r.Context(), common.PathVar(r, "id"), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	for _, c := range res.Items {
		c.User.Email = ""
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.userService.ListDevices(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (h *Handler) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceToken string `json:"deviceToken" validate:"required"`
		Platform    string `json:"platform" validate:"required,oneof=android ios web"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.userService.RegisterDevice(r.Context(), common.UserIDFrom(r.Context()), req.DeviceToken, req.Platform); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "message": "Device registered"})
}

func (h *Handler) removeDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.userService.RemoveDevice(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "token")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Device removed"})
}

func (h *Handler) saveSubscription(w http.ResponseWriter, r *http.Request) {
	var req PushSubscriptionRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.userService.SaveSubscription(r.Context(), common.UserIDFrom(r.Context()), req); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := h.userService.DeleteSubscription(r.Context(), common.UserIDFrom(r.Context()), req.Endpoint); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}
