package common

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey int

const claimsKey ctxKey = iota

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// UserIDFrom returns the authenticated user id, or "" for anonymous requests.
func UserIDFrom(ctx context.Context) string {
	if c, ok := ClaimsFrom(ctx); ok {
		return c.UserID
	}
	return ""
}

func IsAdmin(ctx context.Context) bool {
	c, ok := ClaimsFrom(ctx)
	return ok && c.IsAdmin
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// Authenticator builds HTTP middlewares around a TokenManager.
type Authenticator struct {
	tokens *TokenManager
}

func NewAuthenticator(tokens *TokenManager) *Authenticator {
	return &Authenticator{tokens: tokens}
}

func (a *Authenticator) claims(r *http.Request) (*Claims, error) {
	raw := r.Header.Get("Authorization")
	if raw == "" {
		// browsers cannot set headers on websocket upgrades
		if t := r.URL.Query().Get("token"); t != "" {
			raw = "Bearer " + t
		}
	}
	if raw == "" {
		return nil, NewError(ErrUnauthorized, "authorization required")
	}
	token, ok := bearerToken(raw)
	if !ok {
		return nil, NewError(ErrUnauthorized, "invalid auth header")
	}
	return a.tokens.ValidToken(token)
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := a.claims(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), c)))
	})
}

// OptionalAuth attaches claims when a valid token is present and never rejects.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := a.claims(r); err == nil {
			r = r.WithContext(WithClaims(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			WriteError(w, Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// AuthInterceptor guards gRPC methods. Methods listed in public skip the check;
// every other method needs a bearer token and, when adminOnly is set, an admin claim.
func AuthInterceptor(tokens *TokenManager, public map[string]bool, adminOnly bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if public[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md["authorization"]
		if len(vals) == 0 {
			return nil, status.Error(codes.Unauthenticated, "authorization required")
		}
		token, ok := bearerToken(vals[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "invalid auth header")
		}

		claims, err := tokens.ValidToken(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}
		if adminOnly && !claims.IsAdmin {
			return nil, status.Error(codes.PermissionDenied, "admin access required")
		}

		return handler(WithClaims(ctx, claims), req)
	}
}
