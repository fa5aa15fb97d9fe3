package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	tokenIssuer   = "cfduel-api"
	tokenAudience = "cfduel-client"
)

// currentUserID returns the authenticated user ID placed in locals by
// AuthRequired. Only call it behind that middleware.
func currentUserID(c *fiber.Ctx) uint {
	return c.Locals("userID").(uint)
}

// roomCodeParam extracts and normalizes the :code path parameter. Codes are
// generated uppercase; clients may type them in any case.
func roomCodeParam(c *fiber.Ctx) string {
	return strings.ToUpper(strings.TrimSpace(c.Params("code")))
}
