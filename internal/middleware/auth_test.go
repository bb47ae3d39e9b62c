package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignops/api/internal/auth"
)

const secret = "middleware-test-secret"

type stubVerifier map[string]string

func (s stubVerifier) Validate(token string) (*auth.Claims, error) {
	userID, ok := s[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &auth.Claims{UserID: userID}, nil
}

func whoAmI(identify Identify) *fiber.App {
	app := fiber.New()
	app.Get("/me", RequireUser(identify), func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c))
	})
	return app
}

func call(t *testing.T, app *fiber.App, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestBearerToken(t *testing.T) {
	legacy, err := auth.IssueLegacyToken("user-legacy", "a@example.com", secret, time.Hour)
	require.NoError(t, err)
	forged, err := auth.IssueLegacyToken("user-legacy", "a@example.com", "other", time.Hour)
	require.NoError(t, err)

	app := whoAmI(BearerToken(
		OIDCToken(stubVerifier{"idp-token": "user-idp"}),
		LegacyToken(secret),
	))

	tests := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"provider token", "Bearer idp-token", http.StatusOK, "user-idp"},
		{"falls back to legacy", "Bearer " + legacy, http.StatusOK, "user-legacy"},
		{"scheme is case insensitive", "bearer " + legacy, http.StatusOK, "user-legacy"},
		{"forged signature", "Bearer " + forged, http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic " + legacy, http.StatusUnauthorized, ""},
		{"empty token", "Bearer ", http.StatusUnauthorized, ""},
		{"missing header", "", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers[fiber.HeaderAuthorization] = tt.header
			}
			status, body := call(t, app, headers)
			assert.Equal(t, tt.status, status)
			if tt.user != "" {
				assert.Equal(t, tt.user, body)
			}
		})
	}
}

func TestBearerTokenWithoutChecksRejects(t *testing.T) {
	status, _ := call(t, whoAmI(BearerToken()), map[string]string{
		fiber.HeaderAuthorization: "Bearer anything",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestBearerTokenIgnoresAnonymousTokens(t *testing.T) {
	anonymous := func(string) (string, error) { return "", nil }
	status, _ := call(t, whoAmI(BearerToken(anonymous)), map[string]string{
		fiber.HeaderAuthorization: "Bearer anything",
	})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGatewayHeaders(t *testing.T) {
	app := whoAmI(GatewayHeaders())

	status, body := call(t, app, map[string]string{"X-User-Id": "user-gw"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-gw", body)

	status, _ = call(t, app, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
