package commitment

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goatclash/internal/errs"
)

// ganache devnet key used by the signer in the contract test-suite
const signerKeyHex = "a3abc3cdad875e86ca60dfff15cc889c5817db86489f7d4ed3ffd3f9b7a80b71"

func TestMessageLayout(t *testing.T) {
	commit := common.HexToHash("0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")

	msg, err := Message(0x1234, commit)
	require.NoError(t, err)
	require.Len(t, msg, MessageLength)

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x12, 0x34}, msg[:BlockWidth])
	assert.True(t, bytes.Equal(commit.Bytes(), msg[BlockWidth:]))

	_, err = Message(MaxCommitBlock+1, commit)
	assert.True(t, errors.Is(err, errs.ErrStaleCommitBlock))
}

func TestCommit(t *testing.T) {
	reveal := common.BigToHash(common.Big1)
	// keccak256(uint256(1))
	want := common.HexToHash("0xb10e2d527612073b26eecdfd717e6a320cf44b4afac2b0732d9fcbe2b7fa0cf6")
	assert.Equal(t, want, Commit(reveal))
}

func TestSecp256k1RoundTrip(t *testing.T) {
	key, err := crypto.HexToECDSA(signerKeyHex)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)
	commit := Commit(common.HexToHash("0xfeed"))

	sig, err := SignSecp256k1(key, 42, commit)
	require.NoError(t, err)
	require.Len(t, sig, crypto.SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[crypto.RecoveryIDOffset])

	msg, err := Message(42, commit)
	require.NoError(t, err)

	v := Secp256k1{}
	assert.True(t, v.Verify(msg, sig, signer))

	t.Run("raw recovery id accepted", func(t *testing.T) {
		raw := append([]byte(nil), sig...)
		raw[crypto.RecoveryIDOffset] -= 27
		assert.True(t, v.Verify(msg, raw, signer))
	})

	t.Run("other block rejected", func(t *testing.T) {
		other, _ := Message(43, commit)
		assert.False(t, v.Verify(other, sig, signer))
	})

	t.Run("other signer rejected", func(t *testing.T) {
		assert.False(t, v.Verify(msg, sig, common.HexToAddress("0x1")))
	})

	t.Run("truncated signature rejected", func(t *testing.T) {
		assert.False(t, v.Verify(msg, sig[:64], signer))
	})
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	identity := Ed25519Address(pub)
	commit := Commit(common.HexToHash("0xbeef"))

	sig, err := SignEd25519(priv, 7, commit)
	require.NoError(t, err)
	msg, _ := Message(7, commit)

	v := Ed25519{}
	assert.True(t, v.Verify(msg, sig, identity))

	tampered := append([]byte(nil), sig...)
	tampered[len(tampered)-1] ^= 0xff
	assert.False(t, v.Verify(msg, tampered, identity))
	assert.False(t, v.Verify(msg, sig, common.HexToAddress("0x2")))
}

func TestAdmit(t *testing.T) {
	key, err := crypto.HexToECDSA(signerKeyHex)
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)
	commit := Commit(common.HexToHash("0x01"))

	sig, err := SignSecp256k1(key, 10, commit)
	require.NoError(t, err)

	a := NewAdmitter(nil)

	tests := []struct {
		name    string
		head    uint64
		block   uint64
		sig     []byte
		signer  common.Address
		wantErr error
	}{
		{"future block accepted", 9, 10, sig, signer, nil},
		{"block equal to head is stale", 10, 10, sig, signer, errs.ErrStaleCommitBlock},
		{"past block is stale", 11, 10, sig, signer, errs.ErrStaleCommitBlock},
		{"signature for another block", 5, 11, sig, signer, errs.ErrInvalidSignature},
		{"unset signer", 9, 10, sig, common.Address{}, errs.ErrInvalidSignature},
		{"garbage signature", 9, 10, []byte{1, 2, 3}, signer, errs.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Admit(tt.head, tt.block, commit, tt.sig, tt.signer)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestAdmitWithEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	commit := Commit(common.HexToHash("0x02"))
	sig, err := SignEd25519(priv, 3, commit)
	require.NoError(t, err)

	a := NewAdmitter(Ed25519{})
	assert.NoError(t, a.Admit(1, 3, commit, sig, Ed25519Address(pub)))
}
