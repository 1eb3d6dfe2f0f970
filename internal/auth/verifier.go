package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// Verifier is the identity-provider contract: a bearer token in, the
// provider's subject id out, or a failure. Nothing else leaks through.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWKSVerifier validates tokens against a hosted JWKS.
type JWKSVerifier struct {
	jwks *keyfunc.JWKS
}

func NewJWKSVerifier(url string) (*JWKSVerifier, error) {
	options := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("auth: jwks refresh: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}

	jwks, err := keyfunc.Get(url, options)
	if err != nil {
		return nil, fmt.Errorf("auth: create JWKS from %s: %w", url, err)
	}

	return &JWKSVerifier{jwks: jwks}, nil
}

func (v *JWKSVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, v.jwks.Keyfunc)
	if err != nil {
		return "", errors.New("failed to parse the JWT")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("the token is not valid")
	}

	if err := claims.Valid(); err != nil {
		return "", err
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", errors.New("the token has no subject")
	}

	return subject, nil
}

func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}
