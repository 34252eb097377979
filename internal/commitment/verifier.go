// Package commitment authenticates randomness commitments: a secret signer
// binds a commitment hash to one future block height.
package commitment

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

// Verifier reports whether signature authenticates message for expected.
// Implementations own their key format; callers only see identities.
type Verifier interface {
	Verify(message, signature []byte, expected common.Address) bool
}

// Secp256k1 recovers the signing key from a 65-byte [R || S || V] signature over
// keccak256(message). V may be 0/1 or 27/28.
type Secp256k1 struct{}

func (Secp256k1) Verify(message, signature []byte, expected common.Address) bool {
	if len(signature) != crypto.SignatureLength || expected == (common.Address{}) {
		return false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return false
	}

	pub, err := crypto.SigToPub(Digest(message).Bytes(), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == expected
}

// SignSecp256k1 produces the signature the secret signer publishes for a commitment.
// V is returned as 27/28.
func SignSecp256k1(key *ecdsa.PrivateKey, commitBlock uint64, commit common.Hash) ([]byte, error) {
	msg, err := Message(commitBlock, commit)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(Digest(msg).Bytes(), key)
	if err != nil {
		return nil, errors.Wrap(err, "sign commitment")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Ed25519 verifies signatures laid out as pubkey(32) || sig(64). The identity of
// a key is the last 20 bytes of keccak256(pubkey).
type Ed25519 struct{}

const ed25519SignatureLength = ed25519.PublicKeySize + ed25519.SignatureSize

func (Ed25519) Verify(message, signature []byte, expected common.Address) bool {
	if len(signature) != ed25519SignatureLength || expected == (common.Address{}) {
		return false
	}
	pub := ed25519.PublicKey(signature[:ed25519.PublicKeySize])
	if Ed25519Address(pub) != expected {
		return false
	}
	return ed25519.Verify(pub, message, signature[ed25519.PublicKeySize:])
}

func Ed25519Address(pub ed25519.PublicKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub)[12:])
}

func SignEd25519(key ed25519.PrivateKey, commitBlock uint64, commit common.Hash) ([]byte, error) {
	msg, err := Message(commitBlock, commit)
	if err != nil {
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	out := make([]byte, 0, ed25519SignatureLength)
	out = append(out, pub...)
	out = append(out, ed25519.Sign(key, msg)...)
	return out, nil
}

// Admitter is the admission-time check for a wager's commitment. It has no side effects.
type Admitter struct {
	verifier Verifier
}

func NewAdmitter(v Verifier) *Admitter {
	if v == nil {
		v = Secp256k1{}
	}
	return &Admitter{verifier: v}
}

// Admit accepts a commitment only for a block after head that the signer authorized.
func (a *Admitter) Admit(head, commitBlock uint64, commit common.Hash, signature []byte, signer common.Address) error {
	if commitBlock <= head {
		return errors.Wrapf(errs.ErrStaleCommitBlock, "commit block %d not after head %d", commitBlock, head)
	}
	msg, err := Message(commitBlock, commit)
	if err != nil {
		return err
	}
	if signer == (common.Address{}) {
		return errors.Wrap(errs.ErrInvalidSignature, "secret signer not configured")
	}
	if !a.verifier.Verify(msg, signature, signer) {
		return errors.Wrapf(errs.ErrInvalidSignature, "commitment %s", commit.Hex())
	}
	return nil
}
