package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionClaims bind an HTTP session token to a verified public key.
type SessionClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// JWTManager issues the session tokens handed out in auth:verified. They let
// a socket-authenticated identity call the HTTP file endpoints.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	issuer        string
}

func NewJWTManager(secret string, duration time.Duration, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret), tokenDuration: duration, issuer: issuer}
}

// Generate signs a token whose subject is the public key.
func (m *JWTManager) Generate(publicKey, name string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   publicKey,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
		Name: name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify parses the token and checks signature, expiry and issuer.
func (m *JWTManager) Verify(accessToken string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(accessToken, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, errors.New("token issued by another realm")
	}
	return claims, nil
}

// ExtractToken reads a bearer token from the Authorization header, falling
// back to the token query parameter for plain links.
func ExtractToken(r *http.Request) (string, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		parts := strings.SplitN(hdr, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errors.New("invalid Authorization header")
		}
		return parts[1], nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errors.New("missing token")
}
