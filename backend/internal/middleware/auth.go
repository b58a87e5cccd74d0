package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/auth"
)

const userIDKey = "userID"

// TokenValidator is satisfied by *auth.Manager.
type TokenValidator interface {
	ValidateJWT(token string) (*auth.Claims, error)
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": msg})
}

// Protected verifies the bearer token and stores the caller's id in locals.
func Protected(v TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "missing authorization header")
		}

		// Expecting "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return unauthorized(c, "invalid authorization header format")
		}

		claims, err := v.ValidateJWT(parts[1])
		if err != nil {
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(userIDKey, claims.UserID)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// UserID returns the authenticated caller set by Protected.
func UserID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(userIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
