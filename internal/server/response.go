package server

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"goatclash/internal/errs"
	"goatclash/internal/game"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type receiptResponse struct {
	Bet    *game.BetView `json:"bet,omitempty"`
	Events []game.Event  `json:"events"`
}

func (s *FiberServer) fail(c *fiber.Ctx, op string, err error) error {
	status := errs.HTTPStatus(err)
	ev := s.logger.Warn()
	if status >= fiber.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("op", op).Int("status", status).Msg("request rejected")
	return c.Status(status).JSON(errorResponse{Error: errs.Code(err), Message: err.Error()})
}

func receipt(c *fiber.Ctx, status int, r game.Receipt) error {
	resp := receiptResponse{Events: r.Events}
	if r.Bet != nil {
		v := r.Bet.View()
		resp.Bet = &v
	}
	if resp.Events == nil {
		resp.Events = []game.Event{}
	}
	return c.Status(status).JSON(resp)
}

func views(bets []*game.Bet) []game.BetView {
	return lo.Map(bets, func(b *game.Bet, _ int) game.BetView { return b.View() })
}

// errorHandler covers fiber's own errors, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(errorResponse{Error: "http_error", Message: err.Error()})
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.Wrapf(errs.ErrInvalidRequest, "not a 32-byte hex hash: %q", s)
	}
	return common.BytesToHash(b), nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.Wrapf(errs.ErrInvalidRequest, "not an address: %q", s)
	}
	return common.HexToAddress(s), nil
}
