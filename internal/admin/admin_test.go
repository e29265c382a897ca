package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"amplifi/internal/common"
)

type fakeStats struct {
	stats *Stats
	err   error
}

func (f *fakeStats) Stats(context.Context) (*Stats, error) { return f.stats, f.err }

type fakeHider struct {
	hidden []string
	err    error
}

func (f *fakeHider) HidePost(_ context.Context, postID string) error {
	if f.err != nil {
		return f.err
	}
	f.hidden = append(f.hidden, postID)
	return nil
}

var sampleStats = &Stats{Users: 12, Posts: 40, LiveStreams: 2, Orders: 5, TipVolume: 12500}

func TestHandler(t *testing.T) {
	tokens := common.NewTokenManager("test-secret", time.Hour)

	tests := []struct {
		name     string
		method   string
		path     string
		admin    bool
		anon     bool
		setup    func(st *fakeStats, h *fakeHider)
		wantCode int
		wantBody string
		check    func(t *testing.T, h *fakeHider)
	}{
		{
			name:     "stats",
			method:   http.MethodGet,
			path:     "/admin/stats",
			admin:    true,
			wantCode: http.StatusOK,
			wantBody: `"tipVolume":12500`,
		},
		{
			name:     "stats requires admin",
			method:   http.MethodGet,
			path:     "/admin/stats",
			wantCode: http.StatusForbidden,
		},
		{
			name:     "stats requires token",
			method:   http.MethodGet,
			path:     "/admin/stats",
			anon:     true,
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "stats failure",
			setup: func(st *fakeStats, _ *fakeHider) {
				st.err = errors.New("db down")
			},
			method:   http.MethodGet,
			path:     "/admin/stats",
			admin:    true,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "hide post",
			method:   http.MethodPost,
			path:     "/admin/posts/p1/hide",
			admin:    true,
			wantCode: http.StatusNoContent,
			check: func(t *testing.T, h *fakeHider) {
				assert.Equal(t, []string{"p1"}, h.hidden)
			},
		},
		{
			name: "hide missing post",
			setup: func(_ *fakeStats, h *fakeHider) {
				h.err = common.NotFound("post")
			},
			method:   http.MethodPost,
			path:     "/admin/posts/nope/hide",
			admin:    true,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "hide requires admin",
			method:   http.MethodPost,
			path:     "/admin/posts/p1/hide",
			wantCode: http.StatusForbidden,
			check: func(t *testing.T, h *fakeHider) {
				assert.Empty(t, h.hidden)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStats{stats: sampleStats}
			h := &fakeHider{}
			if tt.setup != nil {
				tt.setup(st, h)
			}
			r := mux.NewRouter()
			NewHandler(NewService(st, h)).Register(r, common.NewAuthenticator(tokens))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if !tt.anon {
				tok, err := tokens.GenerateToken("u1", "u1", tt.admin)
				require.NoError(t, err)
				req.Header.Set("Authorization", "Bearer "+tok)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
			if tt.check != nil {
				tt.check(t, h)
			}
		})
	}
}

func dialAdmin(t *testing.T, svc *Service, tokens *common.TokenManager) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(svc, tokens)
	go Serve(srv, lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCServer_Stats(t *testing.T) {
	tokens := common.NewTokenManager("test-secret", time.Hour)
	adminTok, err := tokens.GenerateToken("a1", "admin", true)
	require.NoError(t, err)
	userTok, err := tokens.GenerateToken("u1", "user", false)
	require.NoError(t, err)

	tests := []struct {
		name     string
		token    string
		statsErr error
		wantCode codes.Code
	}{
		{name: "admin", token: adminTok, wantCode: codes.OK},
		{name: "non admin", token: userTok, wantCode: codes.PermissionDenied},
		{name: "no token", wantCode: codes.Unauthenticated},
		{name: "garbage token", token: "nope", wantCode: codes.Unauthenticated},
		{name: "repository error", token: adminTok, statsErr: errors.New("db down"), wantCode: codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialAdmin(t, NewService(&fakeStats{stats: sampleStats, err: tt.statsErr}, &fakeHider{}), tokens)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if tt.token != "" {
				ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tt.token)
			}

			out := new(structpb.Struct)
			err := conn.Invoke(ctx, statsMethod, &emptypb.Empty{}, out)
			require.Equal(t, tt.wantCode, status.Code(err), "%v", err)
			if tt.wantCode != codes.OK {
				return
			}
			fields := out.AsMap()
			assert.EqualValues(t, 12, fields["users"])
			assert.EqualValues(t, 2, fields["liveStreams"])
			assert.EqualValues(t, 12500, fields["tipVolume"])
		})
	}
}

func TestGRPCServer_HealthIsPublic(t *testing.T) {
	tokens := common.NewTokenManager("test-secret", time.Hour)
	conn := dialAdmin(t, NewService(&fakeStats{stats: sampleStats}, &fakeHider{}), tokens)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, res.Status)
}
