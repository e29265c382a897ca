package notif

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
)

type handlerFixture struct {
	repo   *MockStore
	svc    *NotificationService
	router *mux.Router
	tokens *common.TokenManager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	repo := &MockStore{}
	svc := newTestService(repo)
	t.Cleanup(svc.Shutdown)

	tokens := common.NewTokenManager("test-secret", time.Hour)
	r := mux.NewRouter()
	NewNotificationHandler(svc).Register(r, common.NewAuthenticator(tokens))
	return &handlerFixture{repo: repo, svc: svc, router: r, tokens: tokens}
}

func (f *handlerFixture) do(t *testing.T, method, path, user string, admin bool, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := f.tokens.GenerateToken(user, user, admin)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_UserEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		user     string
		setup    func(repo *MockStore)
		wantCode int
		wantBody string
	}{
		{
			name:     "list requires auth",
			method:   http.MethodGet,
			path:     "/notifications",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:   "list",
			method: http.MethodGet,
			path:   "/notifications?limit=5&offset=5",
			user:   "u1",
			setup: func(repo *MockStore) {
				repo.On("ByUserID", mock.Anything, "u1", 5, 5).Return([]*dbmysql.Notification{
					{ID: "n1", UserID: "u1", Type: common.FollowType, Header: "New follower", Status: common.StatusSent, Priority: 2},
				}, nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `"id":"n1"`,
		},
		{
			name:   "unread count",
			method: http.MethodGet,
			path:   "/notifications/unread-count",
			user:   "u1",
			setup: func(repo *MockStore) {
				repo.On("UnreadCount", mock.Anything, "u1").Return(int64(7), nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"count":7}`,
		},
		{
			name:   "mark read",
			method: http.MethodPut,
			path:   "/notifications/n1/read",
			user:   "u1",
			setup: func(repo *MockStore) {
				repo.On("MarkAsRead", mock.Anything, "n1", "u1").Return(nil).Once()
			},
			wantCode: http.StatusOK,
		},
		{
			name:   "mark someone else's notification read",
			method: http.MethodPut,
			path:   "/notifications/n1/read",
			user:   "u2",
			setup: func(repo *MockStore) {
				repo.On("MarkAsRead", mock.Anything, "n1", "u2").Return(common.NotFound("notification")).Once()
			},
			wantCode: http.StatusNotFound,
		},
		{
			name:   "mark all read",
			method: http.MethodPut,
			path:   "/notifications/read-all",
			user:   "u1",
			setup: func(repo *MockStore) {
				repo.On("MarkAllRead", mock.Anything, "u1").Return(int64(4), nil).Once()
			},
			wantCode: http.StatusOK,
			wantBody: `{"updated":4}`,
		},
		{
			name:   "delete",
			method: http.MethodDelete,
			path:   "/notifications/n1",
			user:   "u1",
			setup: func(repo *MockStore) {
				repo.On("Delete", mock.Anything, "n1", "u1").Return(nil).Once()
			},
			wantCode: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			if tt.setup != nil {
				tt.setup(f.repo)
			}
			rec := f.do(t, tt.method, tt.path, tt.user, false, nil)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			f.repo.AssertExpectations(t)
		})
	}
}

func TestHandler_Schedule(t *testing.T) {
	at := fixedNow.Add(2 * time.Hour)
	payload := map[string]any{
		"userId":      "u1",
		"header":      "Stream reminder",
		"content":     "alice goes live in 10 minutes",
		"scheduledAt": at.Format(time.RFC3339),
	}

	t.Run("admin only", func(t *testing.T) {
		f := newHandlerFixture(t)
		rec := f.do(t, http.MethodPost, "/notifications/schedule", "u1", false, payload)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("past time", func(t *testing.T) {
		f := newHandlerFixture(t)
		past := map[string]any{"userId": "u1", "header": "h", "scheduledAt": fixedNow.Add(-time.Hour).Format(time.RFC3339)}
		rec := f.do(t, http.MethodPost, "/notifications/schedule", "admin", true, past)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stored", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.repo.On("Create", mock.Anything, mock.MatchedBy(func(n *dbmysql.Notification) bool {
			return n.UserID == "u1" && n.Status == common.StatusScheduled &&
				n.Priority == 3 && n.Type == common.SystemType && n.ScheduledAt.Equal(at)
		})).Return(nil).Once()

		rec := f.do(t, http.MethodPost, "/notifications/schedule", "admin", true, payload)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var res struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.NotEmpty(t, res.ID)
		f.repo.AssertExpectations(t)
	})
}

func TestHandler_Send(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/notifications/send", "admin", true, map[string]any{"userId": "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "header is required")

	f.repo.On("Create", mock.Anything, mock.MatchedBy(func(n *dbmysql.Notification) bool {
		return n.UserID == "u1" && n.Priority == 5
	})).Return(nil).Once()
	rec = f.do(t, http.MethodPost, "/notifications/send", "admin", true, map[string]any{
		"userId": "u1", "header": "Maintenance tonight", "priority": 5,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	f.repo.AssertExpectations(t)
}
