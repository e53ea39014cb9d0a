package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims AccessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("room-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestParseAccessToken(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	tokenString := signToken(t, AccessClaims{
		Video: &VideoGrant{Room: "my-room", RoomJoin: true},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "identity",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	claims, err := ParseAccessToken(tokenString, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Room() != "my-room" || claims.Identity() != "identity" || !claims.Video.RoomJoin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	tokenString := signToken(t, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))},
	})

	if _, err := ParseAccessToken(tokenString, now); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseAccessTokenMalformed(t *testing.T) {
	for _, s := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := ParseAccessToken(s, time.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseAccessToken(%q) = %v, want ErrInvalidToken", s, err)
		}
	}
}

func TestParseAccessTokenNoGrant(t *testing.T) {
	tokenString := signToken(t, AccessClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}})

	claims, err := ParseAccessToken(tokenString, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Room() != "" {
		t.Fatalf("room = %q, want empty", claims.Room())
	}
}
