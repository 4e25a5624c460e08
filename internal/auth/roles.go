package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// RequireAdmin restricts a route to company admins. Payment runs and card
// association sit behind it.
func RequireAdmin() fiber.Handler {
	return requirePrincipal(func(p *Principal) bool { return p.IsAdmin }, "admin required")
}

// RequireAdminOrAgent restricts a route to staff allowed to edit client
// payment details.
func RequireAdminOrAgent() fiber.Handler {
	return requirePrincipal(func(p *Principal) bool { return p.IsAdmin || p.IsAgent }, "admin or agent required")
}

// RequireAnyRole only demands a validated principal.
func RequireAnyRole() fiber.Handler {
	return requirePrincipal(nil, "")
}

func requirePrincipal(allowed func(*Principal) bool, denied string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if allowed != nil && !allowed(principal) {
			return fiber.NewError(http.StatusForbidden, denied)
		}
		return c.Next()
	}
}
