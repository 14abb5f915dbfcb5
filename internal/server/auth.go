// Package server verifies bearer tokens from the identity provider and gates
// channel rooms by role.
package server

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim value granted to election administrators.
const RoleAdmin = "admin"

// Principal is the authenticated identity bound to a connection. The zero
// value is an anonymous principal.
type Principal struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Anonymous reports whether no identity is attached.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

// Admin reports whether the principal carries the admin role.
func (p Principal) Admin() bool {
	return p.Role == RoleAdmin
}

// Authenticator validates HS256 bearer tokens issued by the platform backend.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for the shared signing secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses and validates a token and extracts the principal from its
// claims. Expired or malformed tokens yield a CodeAuth error.
func (a *Authenticator) Verify(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Principal{}, WrapError(CodeAuth, "invalid or expired token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, NewError(CodeAuth, "invalid token claims")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Principal{}, NewError(CodeAuth, "token missing subject")
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = "user"
	}
	return Principal{UserID: subject, Role: role}, nil
}

// adminChannels require the admin role to join.
var adminChannels = map[string]struct{}{
	RoomAdmin:               {},
	"channel:audit":         {},
	"channel:notifications": {},
}

// authorizeRoom enforces channel access rules: admin channels need the admin
// role, other channel rooms need any authenticated principal. Election and
// ad-hoc rooms are open.
func authorizeRoom(p Principal, room string) error {
	if !strings.HasPrefix(room, "channel:") {
		return nil
	}
	if _, restricted := adminChannels[room]; restricted {
		if !p.Admin() {
			return NewError(CodeAccessDenied, "admin role required for "+room)
		}
		return nil
	}
	if p.Anonymous() {
		return NewError(CodeAccessDenied, "authentication required for "+room)
	}
	return nil
}
