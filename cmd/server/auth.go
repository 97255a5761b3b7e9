package main

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthenticated = errors.New("unauthenticated")

// authenticate validates an "Authorization: Bearer <jwt>" value signed
// with HS256 and returns the token subject.
func authenticate(authHeader string, secret []byte) (string, error) {
	if len(secret) == 0 || !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errUnauthenticated
	}

	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", errUnauthenticated
	}

	return claims.Subject, nil
}
