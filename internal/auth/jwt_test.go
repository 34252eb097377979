package auth

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goatclash/internal/errs"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken("secret", alice, "player", time.Minute)
	require.NoError(t, err)

	addr, claims, err := ParseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, alice, addr)
	assert.Equal(t, "player", claims.Role)
}

func TestParseTokenRejects(t *testing.T) {
	valid, err := GenerateToken("secret", alice, "", time.Minute)
	require.NoError(t, err)
	expired, err := GenerateToken("secret", alice, "", -time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   alice.Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	notAddress, err := badSubject.SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"wrong secret", "other", valid},
		{"expired", "secret", expired},
		{"alg none", "secret", unsigned},
		{"subject not an address", "secret", notAddress},
		{"garbage", "secret", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseToken(tt.secret, tt.token)
			assert.True(t, errors.Is(err, errs.ErrAuthorization), "got %v", err)
		})
	}
}

func TestGenerateTokenNeedsSecret(t *testing.T) {
	_, err := GenerateToken("", alice, "", time.Minute)
	assert.Error(t, err)
}
