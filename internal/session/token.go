// Package session issues and verifies resume tokens. A token lets a client
// that reconnects keep the connection id it had before, so direct-message
// rooms built from that id stay reachable. Tokens carry no display name and
// are not an identity proof.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	connIdClaim = "conn-id"
	expClaim    = "exp"

	DefaultExpiry = time.Hour * 24
)

var ErrInvalidToken = errors.New("invalid session token")

type Issuer struct {
	key []byte
	exp time.Duration
}

func NewIssuer(signingKey []byte, exp time.Duration) *Issuer {
	if exp <= 0 {
		exp = DefaultExpiry
	}
	return &Issuer{key: signingKey, exp: exp}
}

func (i *Issuer) Issue(connId string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		connIdClaim: connId,
		expClaim:    time.Now().Add(i.exp).Unix(),
	})

	return token.SignedString(i.key)
}

// Verify returns the connection id carried by tokenString.
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	connId, ok := claims[connIdClaim].(string)
	if !ok || connId == "" {
		return "", fmt.Errorf("%w: missing connection id", ErrInvalidToken)
	}

	return connId, nil
}
