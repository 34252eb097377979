// Package access models the three privileged identities of the engine as an
// explicit value record. Checks are pure predicates; updates return a new record
// so a rejected change can never leave the registry half-written.
package access

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

// Roles is the single-slot role registry. NextOwner is the pending side of the
// two-step owner transfer and is zero when no transfer is in flight.
type Roles struct {
	Owner        common.Address `json:"owner"`
	NextOwner    common.Address `json:"next_owner"`
	Croupier     common.Address `json:"croupier"`
	SecretSigner common.Address `json:"secret_signer"`
}

// New returns a registry owned by owner with croupier and signer unset.
func New(owner common.Address) Roles {
	return Roles{Owner: owner}
}

func (r Roles) IsOwner(who common.Address) bool {
	return who != (common.Address{}) && who == r.Owner
}

func (r Roles) IsCroupier(who common.Address) bool {
	return who != (common.Address{}) && who == r.Croupier
}

func (r Roles) IsSecretSigner(who common.Address) bool {
	return who != (common.Address{}) && who == r.SecretSigner
}

// RequireOwner fails with errs.ErrAuthorization unless who is the owner.
func (r Roles) RequireOwner(who common.Address) error {
	if !r.IsOwner(who) {
		return errors.Wrapf(errs.ErrAuthorization, "%s is not the owner", who.Hex())
	}
	return nil
}

// RequireCroupier fails with errs.ErrAuthorization unless who is the croupier.
func (r Roles) RequireCroupier(who common.Address) error {
	if !r.IsCroupier(who) {
		return errors.Wrapf(errs.ErrAuthorization, "%s is not the croupier", who.Hex())
	}
	return nil
}

func (r Roles) WithCroupier(caller, croupier common.Address) (Roles, error) {
	if err := r.RequireOwner(caller); err != nil {
		return r, err
	}
	r.Croupier = croupier
	return r, nil
}

func (r Roles) WithSecretSigner(caller, signer common.Address) (Roles, error) {
	if err := r.RequireOwner(caller); err != nil {
		return r, err
	}
	r.SecretSigner = signer
	return r, nil
}

// ApproveNextOwner starts the owner transfer. The current owner keeps full
// rights until next accepts.
func (r Roles) ApproveNextOwner(caller, next common.Address) (Roles, error) {
	if err := r.RequireOwner(caller); err != nil {
		return r, err
	}
	if next == r.Owner {
		return r, errors.Wrap(errs.ErrInvalidRequest, "cannot approve current owner")
	}
	r.NextOwner = next
	return r, nil
}

// AcceptNextOwner completes the transfer; only the approved address may call it.
func (r Roles) AcceptNextOwner(caller common.Address) (Roles, error) {
	if r.NextOwner == (common.Address{}) || caller != r.NextOwner {
		return r, errors.Wrapf(errs.ErrAuthorization, "%s is not the approved next owner", caller.Hex())
	}
	r.Owner = r.NextOwner
	r.NextOwner = common.Address{}
	return r, nil
}
