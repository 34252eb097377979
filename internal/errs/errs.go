// Package errs holds the rejection taxonomy shared by every wager component.
// Every failure is a rejected operation with no side effects.
package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrAuthorization         = errors.New("caller lacks required role")
	ErrInvalidSignature      = errors.New("commitment not authenticated by secret signer")
	ErrStaleCommitBlock      = errors.New("commit block outside its window")
	ErrDuplicateCommitment   = errors.New("commitment already used")
	ErrUnknownOrResolvedBet  = errors.New("unknown or resolved bet")
	ErrExposureCapExceeded   = errors.New("potential profit exceeds max profit")
	ErrInsolvencyRisk        = errors.New("locked liability would exceed custodied funds")
	ErrInvalidGameParameters = errors.New("invalid game parameters")
	ErrRevealMismatch        = errors.New("reveal does not hash to commitment")

	ErrBlockHashMismatch  = errors.New("block hash does not match chain")
	ErrTokenNotSet        = errors.New("token not configured")
	ErrTokenTransfer      = errors.New("token transfer refused")
	ErrOpenBets           = errors.New("pending bets exist")
	ErrDecommissioned     = errors.New("engine decommissioned")
	ErrInsufficientFunds  = errors.New("insufficient free balance")
	ErrOutstandingDebt    = errors.New("bettor has uncollected losses")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrServiceUnavailable = errors.New("service unavailable")
)

type entry struct {
	err    error
	code   string
	status int
}

// ordered: errors.Is picks the first match, specific before generic.
var table = []entry{
	{ErrAuthorization, "authorization_error", http.StatusForbidden},
	{ErrInvalidSignature, "invalid_signature", http.StatusBadRequest},
	{ErrStaleCommitBlock, "stale_commit_block", http.StatusConflict},
	{ErrDuplicateCommitment, "duplicate_commitment", http.StatusConflict},
	{ErrUnknownOrResolvedBet, "unknown_or_resolved_bet", http.StatusNotFound},
	{ErrExposureCapExceeded, "exposure_cap_exceeded", http.StatusUnprocessableEntity},
	{ErrInsolvencyRisk, "insolvency_risk", http.StatusUnprocessableEntity},
	{ErrInvalidGameParameters, "invalid_game_parameters", http.StatusBadRequest},
	{ErrRevealMismatch, "reveal_mismatch", http.StatusBadRequest},
	{ErrBlockHashMismatch, "block_hash_mismatch", http.StatusBadRequest},
	{ErrTokenNotSet, "token_not_set", http.StatusConflict},
	{ErrTokenTransfer, "token_transfer_failed", http.StatusPaymentRequired},
	{ErrOpenBets, "open_bets", http.StatusConflict},
	{ErrDecommissioned, "decommissioned", http.StatusGone},
	{ErrInsufficientFunds, "insufficient_funds", http.StatusUnprocessableEntity},
	{ErrOutstandingDebt, "outstanding_debt", http.StatusPaymentRequired},
	{ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{ErrServiceUnavailable, "service_unavailable", http.StatusServiceUnavailable},
}

// Code returns the stable API code for err, "internal_error" when err is not in the taxonomy.
func Code(err error) string {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "internal_error"
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
