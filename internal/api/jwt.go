package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtTTL bounds how long an OAuth-callback redirect token is valid for; a
// short TTL limits exposure if it leaks via browser history or a referrer
// header.
const jwtTTL = 5 * time.Minute

var errMalformedBearer = errors.New("api: malformed bearer token")

type redirectClaims struct {
	jwt.RegisteredClaims
}

// issueRedirectToken signs a short-lived JWT carrying userID as the subject,
// used only for the OAuth callback's 302 to FRONTEND_URL/login?token=<jwt>
// (spec.md §6). AuthenticateRequest accepts this token directly as a bearer
// credential until it expires; there is no endpoint that exchanges it for a
// session token.
func issueRedirectToken(secret, userID string) (string, error) {
	claims := redirectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(jwtTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// parseRedirectToken validates a JWT minted by issueRedirectToken and
// returns its subject (user id).
func parseRedirectToken(secret, raw string) (string, error) {
	parsed, err := jwt.ParseWithClaims(raw, &redirectClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*redirectClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", errMalformedBearer
	}
	return claims.Subject, nil
}
