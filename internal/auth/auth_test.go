package auth

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewVerifier_RejectsWeakSecret(t *testing.T) {
	req := require.New(t)

	_, err := NewVerifier("")
	req.ErrorIs(err, ErrWeakSecret)

	_, err = NewVerifier(strings.Repeat("x", MinSecretLength-1))
	req.ErrorIs(err, ErrWeakSecret)

	_, err = NewVerifier(testSecret)
	req.NoError(err)
}

func TestVerifier_IssueAndVerify(t *testing.T) {
	req := require.New(t)
	v, err := NewVerifier(testSecret)
	req.NoError(err)

	identity := types.Identity{UserID: "u-1", Name: "Ana", Email: "ana@example.com", Role: "premium"}
	token, err := v.Issue(identity, time.Hour)
	req.NoError(err)

	got, err := v.Verify(token)
	req.NoError(err)
	req.Equal(identity, got)
}

func TestVerifier_Failures(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)
	other, err := NewVerifier(strings.Repeat("z", 40))
	require.NoError(t, err)

	identity := types.Identity{UserID: "u-1", Name: "Ana"}

	expired, err := v.Issue(identity, -time.Minute)
	require.NoError(t, err)

	foreign, err := other.Issue(identity, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           "u-1",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	badUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "has space",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"missing", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"expired", expired, ErrTokenExpired},
		{"other secret", foreign, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"no expiry", noExpiry, ErrInvalidToken},
		{"bad user id", badUser, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifier_IssueRejectsInvalidUser(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	_, err = v.Issue(types.Identity{UserID: ""}, time.Hour)
	require.ErrorIs(t, err, types.ErrInvalidUserID)
}

func TestTokenFromRequest_Priority(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		header   string
		query    string
		want     string
	}{
		{"explicit wins", "a", "Bearer b", "c", "a"},
		{"header over query", "", "Bearer b", "c", "b"},
		{"lowercase scheme", "", "bearer b", "", "b"},
		{"query fallback", "", "", "c", "c"},
		{"non bearer header ignored", "", "Basic xyz", "c", "c"},
		{"nothing", "", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws/sessions"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, TokenFromRequest(tt.explicit, r))
		})
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFrom(context.Background())
	require.False(t, ok)

	ctx := WithIdentity(context.Background(), types.Identity{UserID: "u1"})
	got, ok := IdentityFrom(ctx)
	require.True(t, ok)
	require.Equal(t, "u1", got.UserID)
}
