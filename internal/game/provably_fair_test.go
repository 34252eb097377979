package game

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestRoll(t *testing.T) {
	tests := []struct {
		name      string
		reveal    common.Hash
		blockHash common.Hash
		modulo    uint64
		jackpot   uint64
	}{
		{"coin flip", common.HexToHash("0x01"), common.HexToHash("0xaa"), 2, 1000},
		{"dice", common.HexToHash("0xfeedface"), common.HexToHash("0xbb"), 6, 1000},
		{"etheroll", common.HexToHash("0xdead"), common.HexToHash("0xcc"), 100, 1000},
		{"small jackpot modulo", common.HexToHash("0xbeef"), common.HexToHash("0xdd"), 37, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Roll(tt.reveal, tt.blockHash, tt.modulo, tt.jackpot)

			entropy := new(big.Int).SetBytes(crypto.Keccak256(tt.reveal.Bytes(), tt.blockHash.Bytes()))
			m := new(big.Int).SetUint64(tt.modulo)
			wantOutcome := new(big.Int).Mod(entropy, m).Uint64()
			rest := new(big.Int).Div(entropy, m)
			wantJackpot := new(big.Int).Mod(rest, new(big.Int).SetUint64(tt.jackpot)).Uint64()

			if got.Entropy.ToBig().Cmp(entropy) != 0 {
				t.Errorf("Entropy = %s, want %s", got.Entropy.Hex(), entropy.Text(16))
			}
			if got.Outcome != wantOutcome {
				t.Errorf("Outcome = %d, want %d", got.Outcome, wantOutcome)
			}
			if got.Outcome >= tt.modulo {
				t.Errorf("Outcome %d out of range %d", got.Outcome, tt.modulo)
			}
			if got.Jackpot != wantJackpot {
				t.Errorf("Jackpot = %d, want %d", got.Jackpot, wantJackpot)
			}
		})
	}
}

func TestRoll_Deterministic(t *testing.T) {
	reveal := common.HexToHash("0x1234")
	blockHash := common.HexToHash("0x5678")

	a := Roll(reveal, blockHash, 100, 1000)
	b := Roll(reveal, blockHash, 100, 1000)
	if a.Outcome != b.Outcome || !a.Entropy.Eq(b.Entropy) {
		t.Errorf("Roll is not deterministic: %d vs %d", a.Outcome, b.Outcome)
	}

	c := Roll(reveal, common.HexToHash("0x5679"), 100, 1000)
	if a.Entropy.Eq(c.Entropy) {
		t.Error("different block hash produced the same entropy")
	}
}

func TestVerifyOutcome(t *testing.T) {
	reveal := common.HexToHash("0x42")
	blockHash := common.HexToHash("0x43")
	outcome := Roll(reveal, blockHash, 6, 1000).Outcome

	if !VerifyOutcome(reveal, blockHash, 6, outcome) {
		t.Error("VerifyOutcome rejected the true outcome")
	}
	if VerifyOutcome(reveal, blockHash, 6, (outcome+1)%6) {
		t.Error("VerifyOutcome accepted a wrong outcome")
	}
	if VerifyOutcome(reveal, blockHash, 0, 0) {
		t.Error("VerifyOutcome accepted modulo 0")
	}
}

func TestGenerateReveal(t *testing.T) {
	a, err := GenerateReveal()
	if err != nil {
		t.Fatalf("GenerateReveal() error = %v", err)
	}
	b, _ := GenerateReveal()

	if a == (common.Hash{}) {
		t.Error("GenerateReveal() returned zero hash")
	}
	if a == b {
		t.Error("GenerateReveal() returned the same secret twice")
	}
}
