package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/campaignops/api/internal/auth"
	"github.com/campaignops/api/pkg/response"
)

const localUserID = "userId"

// set by a gateway that authenticated the caller itself
const headerUserID = "X-User-Id"

var (
	errNoCredentials = errors.New("missing credentials")
	errBadScheme     = errors.New("authorization header is not a bearer token")
	errNoCheck       = errors.New("no token check configured")
)

// TokenCheck returns the user a bearer token was issued to.
type TokenCheck func(token string) (string, error)

// OIDCToken accepts tokens from the external identity provider.
func OIDCToken(v auth.TokenVerifier) TokenCheck {
	return func(token string) (string, error) {
		claims, err := v.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
}

// LegacyToken accepts HMAC tokens signed with secret.
func LegacyToken(secret string) TokenCheck {
	return func(token string) (string, error) {
		claims, err := auth.ValidateLegacyToken(token, secret)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
}

// Identify resolves who a request acts for.
type Identify func(c *fiber.Ctx) (string, error)

// BearerToken identifies the caller by the first check that accepts the
// Authorization header's token.
func BearerToken(checks ...TokenCheck) Identify {
	return func(c *fiber.Ctx) (string, error) {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return "", errNoCredentials
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return "", errBadScheme
		}

		err := errNoCheck
		for _, check := range checks {
			userID, checkErr := check(token)
			if checkErr == nil && userID != "" {
				return userID, nil
			}
			if checkErr != nil {
				err = checkErr
			}
		}
		return "", err
	}
}

// GatewayHeaders trusts the user id forwarded by an authenticating gateway.
func GatewayHeaders() Identify {
	return func(c *fiber.Ctx) (string, error) {
		if userID := c.Get(headerUserID); userID != "" {
			return userID, nil
		}
		return "", errNoCredentials
	}
}

// RequireUser rejects requests whose caller cannot be identified and
// records the user id for GetUserID otherwise.
func RequireUser(identify Identify) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := identify(c)
		switch {
		case errors.Is(err, errNoCredentials):
			return response.Unauthorized(c, "Missing credentials")
		case errors.Is(err, errBadScheme):
			return response.Unauthorized(c, "Invalid authorization header format")
		case err != nil:
			return response.Unauthorized(c, "Invalid or expired token")
		}
		c.Locals(localUserID, userID)
		return c.Next()
	}
}

// GetUserID returns the user RequireUser identified, or "".
func GetUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(localUserID).(string)
	return userID
}
