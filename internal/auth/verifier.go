// Package auth verifies participant identity tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/amoylab/gameroom/internal/auth/jwt"
	"github.com/amoylab/gameroom/internal/session"
)

// Identity is a verified participant
type Identity struct {
	ID          string `json:"identity"`
	DisplayName string `json:"display_name"`
}

// Verifier turns a bearer token into an Identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// JWTVerifier verifies HS256 tokens issued by jwt.Service
type JWTVerifier struct {
	service *jwt.Service
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier backed by service
func NewJWTVerifier(service *jwt.Service) *JWTVerifier {
	return &JWTVerifier{service: service}
}

// Verify implements Verifier.Verify
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", session.ErrUnauthorized)
	}
	claims, err := v.service.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrUnauthorized, err)
	}
	name := claims.DisplayName
	if name == "" {
		name = claims.Identity
	}
	return &Identity{ID: claims.Identity, DisplayName: name}, nil
}

// TokenProtocolPrefix marks a token carried in Sec-WebSocket-Protocol, for
// browsers that cannot set headers on a websocket handshake.
const TokenProtocolPrefix = "bearer."

// TokenFromRequest extracts a token from the Authorization header, the
// Sec-WebSocket-Protocol header or the token query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	for _, p := range websocketProtocols(r) {
		if strings.HasPrefix(p, TokenProtocolPrefix) {
			return strings.TrimPrefix(p, TokenProtocolPrefix)
		}
	}
	return r.URL.Query().Get("token")
}

func websocketProtocols(r *http.Request) []string {
	var out []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
