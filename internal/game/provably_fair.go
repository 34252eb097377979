package game

import (
	"crypto/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Draw is the randomness derived for one bet.
type Draw struct {
	Entropy *uint256.Int
	Outcome uint64
	// Jackpot is the secondary draw, read from the bits of entropy above the outcome.
	Jackpot uint64
}

// Entropy is keccak256(reveal || blockHash). Neither party knows both inputs
// until the committed block is sealed.
func Entropy(reveal, blockHash common.Hash) *uint256.Int {
	return new(uint256.Int).SetBytes(crypto.Keccak256(reveal.Bytes(), blockHash.Bytes()))
}

// Roll reduces the entropy to an outcome in [0, modulo) and a jackpot number in
// [0, jackpotModulo).
func Roll(reveal, blockHash common.Hash, modulo, jackpotModulo uint64) Draw {
	entropy := Entropy(reveal, blockHash)
	m := uint256.NewInt(modulo)

	outcome := new(uint256.Int).Mod(entropy, m)
	rest := new(uint256.Int).Div(entropy, m)
	jackpot := new(uint256.Int).Mod(rest, uint256.NewInt(jackpotModulo))

	return Draw{Entropy: entropy, Outcome: outcome.Uint64(), Jackpot: jackpot.Uint64()}
}

// VerifyOutcome lets a bettor check a published settlement.
func VerifyOutcome(reveal, blockHash common.Hash, modulo, claimed uint64) bool {
	if modulo == 0 {
		return false
	}
	return Roll(reveal, blockHash, modulo, 1).Outcome == claimed
}

// GenerateReveal draws a fresh 32-byte secret from the OS CSPRNG.
func GenerateReveal() (common.Hash, error) {
	var reveal common.Hash
	if _, err := rand.Read(reveal[:]); err != nil {
		return common.Hash{}, errors.Wrap(err, "read random reveal")
	}
	return reveal, nil
}
