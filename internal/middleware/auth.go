package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chat-service/internal/apperr"
	"chat-service/internal/callctx"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// IdentityResolver establishes the caller of a request. The X-User-Id header
// set by the gateway is trusted; when a secret is configured a bearer token
// (Authorization header or "token" query parameter) takes precedence.
type IdentityResolver struct {
	Secret []byte
}

func NewIdentityResolver(secret string) *IdentityResolver {
	return &IdentityResolver{Secret: []byte(secret)}
}

// Resolve returns the caller of r. The "userId" query parameter is accepted
// for browser websocket clients that cannot set headers.
func (j *IdentityResolver) Resolve(r *http.Request) (uuid.UUID, error) {
	if len(j.Secret) > 0 {
		if tokenStr := bearerToken(r); tokenStr != "" {
			return j.parseToken(tokenStr)
		}
	}

	raw := r.Header.Get(callctx.HeaderUserID)
	source := callctx.HeaderUserID + " header"
	if raw == "" {
		raw = r.URL.Query().Get("userId")
		source = "userId parameter"
	}
	if raw == "" || raw == callctx.Undefined {
		return uuid.Nil, apperr.WithStatus(http.StatusBadRequest, "Missing "+callctx.HeaderUserID+" header", nil)
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.WithStatus(http.StatusBadRequest, "Invalid "+source, err)
	}
	return userID, nil
}

func (j *IdentityResolver) parseToken(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		return uuid.Nil, apperr.WithStatus(http.StatusUnauthorized, "Invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, apperr.WithStatus(http.StatusUnauthorized, "Invalid token claims", nil)
	}

	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		userIDStr, _ = claims["sub"].(string)
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, apperr.WithStatus(http.StatusUnauthorized, "Invalid user ID in token", err)
	}
	return userID, nil
}

func bearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware resolves the caller and attaches it to the request context.
func (j *IdentityResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := j.Resolve(r)
		if err != nil {
			apperr.WriteHTTP(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts user_id from request context
func GetUserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}
