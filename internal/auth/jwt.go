// Package auth issues and checks the HS256 tokens that carry a caller's
// account address as the subject.
package auth

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

const Issuer = "goatclash"

// Claims represents the JWT claims structure
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for address that expires after ttl.
func GenerateToken(secret string, address common.Address, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty jwt secret")
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   address.Hex(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken returns the address a valid token was issued to.
func ParseToken(secret, tokenString string) (common.Address, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return common.Address{}, nil, errors.Wrapf(errs.ErrAuthorization, "token: %v", err)
	}
	if !token.Valid || !common.IsHexAddress(claims.Subject) {
		return common.Address{}, nil, errors.Wrap(errs.ErrAuthorization, "token subject is not an address")
	}
	return common.HexToAddress(claims.Subject), claims, nil
}
