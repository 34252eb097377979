package server

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gofiber/fiber/v2"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"goatclash/internal/database"
	"goatclash/internal/errs"
	"goatclash/internal/game"
)

type placeBetRequest struct {
	Amount      string        `json:"amount"`
	Mask        uint64        `json:"mask"`
	Modulo      uint64        `json:"modulo"`
	CommitBlock uint64        `json:"commit_block"`
	Commitment  common.Hash   `json:"commitment"`
	Signature   hexutil.Bytes `json:"signature"`
}

type settleBetRequest struct {
	Reveal     common.Hash  `json:"reveal"`
	BlockHash  common.Hash  `json:"block_hash"`
	Commitment *common.Hash `json:"commitment,omitempty"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type withdrawRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type decommissionRequest struct {
	Force bool `json:"force"`
}

func bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errors.Wrapf(errs.ErrInvalidRequest, "request body: %v", err)
	}
	return nil
}

func (s *FiberServer) stateHandler(c *fiber.Ctx) error {
	sum, err := s.engine.Summary(c.UserContext())
	if err != nil {
		return s.fail(c, "state", err)
	}
	return c.JSON(sum)
}

// listBetsHandler serves pending bets from the engine; other filters need the
// postgres projection.
func (s *FiberServer) listBetsHandler(c *fiber.Ctx) error {
	status := game.Status(c.Query("status", string(game.StatusPending)))
	bettor := c.Query("bettor")

	if status == game.StatusPending && bettor == "" {
		return c.JSON(fiber.Map{"bets": views(s.engine.Pending())})
	}
	if s.store == nil {
		return s.fail(c, "list_bets", errors.Wrap(errs.ErrServiceUnavailable, "bet history needs the database"))
	}

	filter := database.BetFilter{Status: status, Limit: c.QueryInt("limit", 100)}
	if status == "all" {
		filter.Status = ""
	}
	if bettor != "" {
		addr, err := parseAddress(bettor)
		if err != nil {
			return s.fail(c, "list_bets", err)
		}
		filter.Bettor = addr
	}
	bets, err := s.store.ListBets(c.UserContext(), filter)
	if err != nil {
		return s.fail(c, "list_bets", errors.Wrap(errs.ErrServiceUnavailable, err.Error()))
	}
	if bets == nil {
		bets = []game.BetView{}
	}
	return c.JSON(fiber.Map{"bets": bets})
}

func (s *FiberServer) recentBetsHandler(c *fiber.Ctx) error {
	if s.cache == nil {
		return s.fail(c, "recent_bets", errors.Wrap(errs.ErrServiceUnavailable, "recent settlements need redis"))
	}
	bets, err := s.cache.Recent(c.UserContext(), int64(c.QueryInt("limit", 20)))
	if err != nil {
		return s.fail(c, "recent_bets", errors.Wrap(errs.ErrServiceUnavailable, err.Error()))
	}
	return c.JSON(fiber.Map{"bets": bets})
}

// getBetHandler looks in the engine first, then the cache and the projection
// for bets resolved long ago.
func (s *FiberServer) getBetHandler(c *fiber.Ctx) error {
	commit, err := parseHash(c.Params("commitment"))
	if err != nil {
		return s.fail(c, "get_bet", err)
	}
	if b, ok := s.engine.Bet(commit); ok {
		return c.JSON(b.View())
	}

	if s.cache != nil {
		if v, err := s.cache.CachedBet(c.UserContext(), commit.Hex()); err == nil && v != nil {
			return c.JSON(v)
		}
	}
	if s.store != nil {
		v, err := s.store.GetBet(c.UserContext(), commit)
		if err != nil {
			s.logger.Warn().Err(err).Str("commitment", commit.Hex()).Msg("bet lookup in database failed")
		} else if v != nil {
			return c.JSON(v)
		}
	}
	return s.fail(c, "get_bet", errors.Wrapf(errs.ErrUnknownOrResolvedBet, "no bet %s", commit.Hex()))
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	bettor, err := caller(c)
	if err != nil {
		return s.fail(c, "place_bet", err)
	}
	var req placeBetRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, "place_bet", err)
	}
	amount, err := game.ParseAmount(req.Amount)
	if err != nil {
		return s.fail(c, "place_bet", err)
	}

	r, err := s.engine.PlaceBet(c.UserContext(), bettor, game.PlaceRequest{
		Amount:      amount,
		Mask:        req.Mask,
		Modulo:      req.Modulo,
		CommitBlock: req.CommitBlock,
		Commitment:  req.Commitment,
		Signature:   req.Signature,
	})
	if err != nil {
		return s.fail(c, "place_bet", err)
	}
	return receipt(c, fiber.StatusCreated, r)
}

func (s *FiberServer) settleBetHandler(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return s.fail(c, "settle_bet", err)
	}
	var req settleBetRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, "settle_bet", err)
	}

	r, err := s.engine.SettleBet(c.UserContext(), who, game.SettleRequest{
		Reveal:     req.Reveal,
		BlockHash:  req.BlockHash,
		Commitment: req.Commitment,
	})
	if err != nil {
		return s.fail(c, "settle_bet", err)
	}
	return receipt(c, fiber.StatusOK, r)
}

func (s *FiberServer) cancelBetHandler(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return s.fail(c, "cancel_bet", err)
	}
	commit, err := parseHash(c.Params("commitment"))
	if err != nil {
		return s.fail(c, "cancel_bet", err)
	}

	r, err := s.engine.CancelBet(c.UserContext(), who, commit)
	if err != nil {
		return s.fail(c, "cancel_bet", err)
	}
	return receipt(c, fiber.StatusOK, r)
}

func (s *FiberServer) getDebtHandler(c *fiber.Ctx) error {
	bettor, err := parseAddress(c.Params("address"))
	if err != nil {
		return s.fail(c, "get_debt", err)
	}
	return c.JSON(fiber.Map{"bettor": bettor, "debt": s.engine.Debt(bettor).Dec()})
}

func (s *FiberServer) collectDebtHandler(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return s.fail(c, "collect_debt", err)
	}
	bettor, err := parseAddress(c.Params("address"))
	if err != nil {
		return s.fail(c, "collect_debt", err)
	}

	r, err := s.engine.CollectDebt(c.UserContext(), who, bettor)
	if err != nil {
		return s.fail(c, "collect_debt", err)
	}
	return receipt(c, fiber.StatusOK, r)
}

// Admin handlers

func (s *FiberServer) addressAction(op string, fn func(c *fiber.Ctx, who, addr common.Address) (game.Receipt, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, err := caller(c)
		if err != nil {
			return s.fail(c, op, err)
		}
		var req addressRequest
		if err := bind(c, &req); err != nil {
			return s.fail(c, op, err)
		}
		addr, err := parseAddress(req.Address)
		if err != nil {
			return s.fail(c, op, err)
		}
		r, err := fn(c, who, addr)
		if err != nil {
			return s.fail(c, op, err)
		}
		return receipt(c, fiber.StatusOK, r)
	}
}

func (s *FiberServer) amountAction(op string, fn func(c *fiber.Ctx, who common.Address, v *uint256.Int) (game.Receipt, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who, err := caller(c)
		if err != nil {
			return s.fail(c, op, err)
		}
		var req amountRequest
		if err := bind(c, &req); err != nil {
			return s.fail(c, op, err)
		}
		v, err := game.ParseAmount(req.Amount)
		if err != nil {
			return s.fail(c, op, err)
		}
		r, err := fn(c, who, v)
		if err != nil {
			return s.fail(c, op, err)
		}
		return receipt(c, fiber.StatusOK, r)
	}
}

func (s *FiberServer) setTokenHandler(c *fiber.Ctx) error {
	return s.addressAction("set_token", func(c *fiber.Ctx, who, addr common.Address) (game.Receipt, error) {
		return s.engine.SetToken(c.UserContext(), who, addr)
	})(c)
}

func (s *FiberServer) setCroupierHandler(c *fiber.Ctx) error {
	return s.addressAction("set_croupier", func(_ *fiber.Ctx, who, addr common.Address) (game.Receipt, error) {
		return s.engine.SetCroupier(who, addr)
	})(c)
}

func (s *FiberServer) setSecretSignerHandler(c *fiber.Ctx) error {
	return s.addressAction("set_secret_signer", func(_ *fiber.Ctx, who, addr common.Address) (game.Receipt, error) {
		return s.engine.SetSecretSigner(who, addr)
	})(c)
}

func (s *FiberServer) approveOwnerHandler(c *fiber.Ctx) error {
	return s.addressAction("approve_next_owner", func(_ *fiber.Ctx, who, addr common.Address) (game.Receipt, error) {
		return s.engine.ApproveNextOwner(who, addr)
	})(c)
}

func (s *FiberServer) acceptOwnerHandler(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return s.fail(c, "accept_next_owner", err)
	}
	r, err := s.engine.AcceptNextOwner(who)
	if err != nil {
		return s.fail(c, "accept_next_owner", err)
	}
	return receipt(c, fiber.StatusOK, r)
}

func (s *FiberServer) setMaxProfitHandler(c *fiber.Ctx) error {
	return s.amountAction("set_max_profit", func(_ *fiber.Ctx, who common.Address, v *uint256.Int) (game.Receipt, error) {
		return s.engine.SetMaxProfit(who, v)
	})(c)
}

func (s *FiberServer) increaseJackpotHandler(c *fiber.Ctx) error {
	return s.amountAction("increase_jackpot", func(c *fiber.Ctx, who common.Address, v *uint256.Int) (game.Receipt, error) {
		return s.engine.IncreaseJackpot(c.UserContext(), who, v)
	})(c)
}

func (s *FiberServer) withdrawHandler(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return s.fail(c, "withdraw_funds", err)
	}
	var req withdrawRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, "withdraw_funds", err)
	}
	to, err := parseAddress(req.To)
	if err != nil {
		return s.fail(c, "withdraw_funds", err)
	}
	v, err := game.ParseAmount(req.Amount)
	if err != nil {
		return s.fail(c, "withdraw_funds", err)
	}

	r, err := s.engine.WithdrawFunds(c.UserContext(), who, to, v)
	if err != nil {
		return s.fail(c, "withdraw_funds", err)
	}
	return receipt(c, fiber.StatusOK, r)
}

func (s *FiberServer) decommissionHandler(c *fiber.Ctx) error {
	who, err := caller(c)
	if err != nil {
		return s.fail(c, "decommission", err)
	}
	var req decommissionRequest
	if len(c.Body()) > 0 {
		if err := bind(c, &req); err != nil {
			return s.fail(c, "decommission", err)
		}
	}

	r, err := s.engine.Decommission(c.UserContext(), who, req.Force)
	if err != nil {
		return s.fail(c, "decommission", err)
	}
	return receipt(c, fiber.StatusOK, r)
}
