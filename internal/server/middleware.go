package server

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"goatclash/internal/auth"
	"goatclash/internal/errs"
)

const callerKey = "caller"

// requireCaller authenticates the bearer token and stores the caller address.
func (s *FiberServer) requireCaller(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{
			Error:   "unauthenticated",
			Message: "expected Authorization: Bearer <token>",
		})
	}

	addr, _, err := auth.ParseToken(s.jwtSecret, parts[1])
	if err != nil {
		s.logger.Warn().Err(err).Str("path", c.Path()).Msg("rejected token")
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{
			Error:   "unauthenticated",
			Message: "invalid or expired token",
		})
	}
	c.Locals(callerKey, addr)
	return c.Next()
}

func caller(c *fiber.Ctx) (common.Address, error) {
	addr, ok := c.Locals(callerKey).(common.Address)
	if !ok {
		return common.Address{}, errors.Wrap(errs.ErrAuthorization, "no authenticated caller")
	}
	return addr, nil
}
