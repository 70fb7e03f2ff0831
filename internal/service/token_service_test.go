package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-ops-api/internal/models"
	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "studio-idp"})

	token, err := svc.Issue("user-1", "studio-1", models.RoleTeacher, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "studio-1", claims.StudioID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestTokenServiceRejectsBadTokens(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "studio-idp"})

	expired, err := svc.Issue("user-1", "studio-1", models.RoleAdmin, -time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewTokenService(TokenConfig{Secret: "secret", Issuer: "elsewhere"}).Issue("user-1", "studio-1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	wrongSecret, err := NewTokenService(TokenConfig{Secret: "other", Issuer: "studio-idp"}).Issue("user-1", "studio-1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	noStudio, err := svc.Issue("user-1", "", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &models.JWTClaims{UserID: "user-1", StudioID: "studio-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":   expired,
		"issuer":    otherIssuer,
		"secret":    wrongSecret,
		"no studio": noStudio,
		"alg none":  none,
		"garbage":   "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}
