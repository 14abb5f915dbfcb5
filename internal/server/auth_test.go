package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject, role string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(expiry).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	token := signToken(t, "test-secret", "user-7", "admin", time.Hour)

	p, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if p.UserID != "user-7" {
		t.Errorf("UserID = %q, want user-7", p.UserID)
	}
	if !p.Admin() {
		t.Error("expected admin principal")
	}
}

func TestVerifyDefaultsRole(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	token := signToken(t, "test-secret", "user-7", "", time.Hour)

	p, err := auth.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if p.Role != "user" {
		t.Errorf("Role = %q, want user", p.Role)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	token := signToken(t, "test-secret", "user-7", "user", -time.Hour)

	if _, err := auth.Verify(token); !IsCode(err, CodeAuth) {
		t.Errorf("expected auth_error for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	token := signToken(t, "other-secret", "user-7", "user", time.Hour)

	if _, err := auth.Verify(token); !IsCode(err, CodeAuth) {
		t.Errorf("expected auth_error for bad signature, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	auth := NewAuthenticator("test-secret")
	if _, err := auth.Verify("not-a-token"); !IsCode(err, CodeAuth) {
		t.Errorf("expected auth_error, got %v", err)
	}
}

func TestAuthorizeRoom(t *testing.T) {
	anonymous := Principal{}
	user := Principal{UserID: "u1", Role: "user"}
	admin := Principal{UserID: "a1", Role: RoleAdmin}

	tests := []struct {
		name      string
		principal Principal
		room      string
		wantCode  ErrorCode
		wantOK    bool
	}{
		{"anonymous open room", anonymous, "election-42", 0, true},
		{"anonymous channel", anonymous, RoomVotes, CodeAccessDenied, false},
		{"user channel", user, RoomVotes, 0, true},
		{"user admin channel", user, RoomAdmin, CodeAccessDenied, false},
		{"admin admin channel", admin, RoomAdmin, 0, true},
		{"admin audit channel", admin, "channel:audit", 0, true},
		{"user audit channel", user, "channel:audit", CodeAccessDenied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorizeRoom(tt.principal, tt.room)
			if tt.wantOK && err != nil {
				t.Errorf("authorizeRoom = %v, want nil", err)
			}
			if !tt.wantOK && !IsCode(err, tt.wantCode) {
				t.Errorf("authorizeRoom = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}
