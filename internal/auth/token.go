package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"liveclass/pkg/types"
)

// Issuer is written to and required in every token.
const Issuer = "liveclass"

// MinSecretLength is the shortest accepted HMAC secret, in bytes.
const MinSecretLength = 32

// Claims defines the data stored inside the JWT.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and validates HS256 bearer tokens with one shared secret.
// The REST middleware and the socket handshake must use the same instance
// (or the same secret); a mismatch rejects one side only.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

// NewVerifier returns a Verifier for secret. There is no default secret.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	v := &Verifier{secret: []byte(secret), now: time.Now}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v, nil
}

// Issue creates a signed token for identity valid for ttl.
func (v *Verifier) Issue(identity types.Identity, ttl time.Duration) (string, error) {
	if !types.IsValidUserID(identity.UserID) {
		return "", types.ErrInvalidUserID
	}
	now := v.now()
	claims := &Claims{
		UserID: identity.UserID,
		Name:   identity.Name,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify validates signature, issuer and expiry and returns the identity.
// Expiry maps to ErrTokenExpired; every other failure to ErrInvalidToken.
func (v *Verifier) Verify(token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return types.Identity{}, ErrTokenExpired
		}
		return types.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !types.IsValidUserID(claims.UserID) {
		return types.Identity{}, fmt.Errorf("%w: bad user_id claim", ErrInvalidToken)
	}

	return types.Identity{
		UserID: claims.UserID,
		Name:   claims.Name,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
