package feed

import (
	"net/http"

	"github.com/gorilla/mux"

	"amplifi/internal/common"
)

const maxPostUpload = 64 << 20

type Handler struct {
	feed *FeedService
}

func NewHandler(feed *FeedService) *Handler {
	return &Handler{feed: feed}
}

// Register mounts the feed routes. Literal /posts paths come before /posts/{id}.
func (h *Handler) Register(r *mux.Router, auth *common.Authenticator) {
	r.Handle("/feed", auth.OptionalAuth(http.HandlerFunc(h.getFeed))).Methods(http.MethodGet)
	r.Handle("/feed/trending", auth.OptionalAuth(http.HandlerFunc(h.getTrending))).Methods(http.MethodGet)
	r.Handle("/feed/following", auth.RequireAuth(http.HandlerFunc(h.getFollowingFeed))).Methods(http.MethodGet)
	r.Handle("/stories", auth.RequireAuth(http.HandlerFunc(h.getStories))).Methods(http.MethodGet)
	r.Handle("/stories", auth.RequireAuth(http.HandlerFunc(h.createStory))).Methods(http.MethodPost)
	r.Handle("/bookmarks", auth.RequireAuth(http.HandlerFunc(h.listBookmarks))).Methods(http.MethodGet)

	r.Handle("/posts", auth.RequireAuth(http.HandlerFunc(h.createPost))).Methods(http.MethodPost)
	r.Handle("/posts/search", auth.OptionalAuth(http.HandlerFunc(h.search))).Methods(http.MethodGet)
	r.Handle("/posts/{id}", auth.OptionalAuth(http.HandlerFunc(h.getPost))).Methods(http.MethodGet)
	r.Handle("/posts/{id}", auth.RequireAuth(http.HandlerFunc(h.deletePost))).Methods(http.MethodDelete)
	r.HandleFunc("/posts/{id}/view", h.recordView).Methods(http.MethodPost)
	r.Handle("/posts/{id}/reactions", auth.RequireAuth(http.HandlerFunc(h.react))).Methods(http.MethodPost)
	r.Handle("/posts/{id}/bookmark", auth.RequireAuth(http.HandlerFunc(h.bookmark))).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/comments", h.listComments).Methods(http.MethodGet)
	r.Handle("/posts/{id}/comments", auth.RequireAuth(http.HandlerFunc(h.addComment))).Methods(http.MethodPost)
	r.Handle("/comments/{id}", auth.RequireAuth(http.HandlerFunc(h.deleteComment))).Methods(http.MethodDelete)

	r.Handle("/users/{id}/posts", auth.OptionalAuth(http.HandlerFunc(h.userPosts))).Methods(http.MethodGet)
}

func (h *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.feed.GetFeed(r.Context(), common.UserIDFrom(r.Context()), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) getTrending(w http.ResponseWriter, r *http.Request) {
	posts, err := h.feed.GetTrending(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"items": posts})
}

func (h *Handler) getFollowingFeed(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.feed.GetFollowingFeed(r.Context(), common.UserIDFrom(r.Context()), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) userPosts(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.feed.GetUserPosts(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) getStories(w http.ResponseWriter, r *http.Request) {
	stories, err := h.feed.GetStories(r.Context(), common.UserIDFrom(r.Context()))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"stories": stories})
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := readNewPost(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	defer cleanup()

	post, err := h.feed.CreatePost(r.Context(), common.UserIDFrom(r.Context()), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, post)
}

func (h *Handler) createStory(w http.ResponseWriter, r *http.Request) {
	in, cleanup, err := readNewPost(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	defer cleanup()

	story, err := h.feed.CreateStory(r.Context(), common.UserIDFrom(r.Context()), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, story)
}

// readNewPost accepts a multipart form with "caption" and an optional "file".
func readNewPost(r *http.Request) (NewPost, func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(maxPostUpload); err != nil {
		return NewPost{}, noop, common.WrapError(common.ErrInvalidInput, err, "expected multipart form")
	}
	in := NewPost{Caption: r.FormValue("caption")}
	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return in, noop, nil
	}
	if err != nil {
		return NewPost{}, noop, common.WrapError(common.ErrInvalidInput, err, "unreadable file")
	}
	in.File = file
	in.FileName = header.Filename
	return in, func() { file.Close() }, nil
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.feed.GetPost(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, post)
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.DeletePost(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) recordView(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.RecordView(r.Context(), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) react(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &req); err != nil {
			common.WriteError(w, err)
			return
		}
	}
	res, err := h.feed.ToggleReaction(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), req.Type)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) bookmark(w http.ResponseWriter, r *http.Request) {
	saved, err := h.feed.ToggleBookmark(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"bookmarked": saved})
}

func (h *Handler) listBookmarks(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.feed.ListBookmarks(r.Context(), common.UserIDFrom(r.Context()), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	var page common.PageRequest
	if err := common.DecodeQuery(r, &page); err != nil {
		common.WriteError(w, err)
		return
	}
	res, err := h.feed.ListComments(r.Context(), common.PathVar(r, "id"), page)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text" validate:"required"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	comment, err := h.feed.AddComment(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id"), req.Text)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusCreated, comment)
}

func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.feed.DeleteComment(r.Context(), common.UserIDFrom(r.Context()), common.PathVar(r, "id")); err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

type searchQuery struct {
	Q     string `schema:"q"`
	Limit int    `schema:"limit" validate:"gte=0,lte=50"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var q searchQuery
	if err := common.DecodeQuery(r, &q); err != nil {
		common.WriteError(w, err)
		return
	}
	posts, err := h.feed.SearchPosts(r.Context(), common.UserIDFrom(r.Context()), q.Q, q.Limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"posts": posts})
}
