package jwt

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims is the token payload issued by the platform's credential service.
// This package only validates tokens; issuance lives outside the messaging
// core.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Validator checks bearer tokens against the shared signing secret.
type Validator struct {
	secretKey []byte
}

func NewValidator(secretKey []byte) *Validator {
	return &Validator{secretKey: secretKey}
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// TokenFromRequest extracts the bearer token from the Authorization header,
// falling back to the "token" query parameter. Browser WebSocket clients
// cannot set headers, so the query form is accepted on handshakes too.
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
