package commitment

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"goatclash/internal/errs"
)

const (
	// BlockWidth is the byte width of the commit block in the signed message (uint40).
	BlockWidth = 5

	// MaxCommitBlock is the largest height representable in BlockWidth bytes.
	MaxCommitBlock = 1<<(8*BlockWidth) - 1

	MessageLength = BlockWidth + common.HashLength
)

// Message encodes commitBlock (big-endian, BlockWidth bytes) followed by the raw commitment.
func Message(commitBlock uint64, commit common.Hash) ([]byte, error) {
	if commitBlock > MaxCommitBlock {
		return nil, errors.Wrapf(errs.ErrStaleCommitBlock, "commit block %d exceeds %d", commitBlock, uint64(MaxCommitBlock))
	}
	var wide [8]byte
	binary.BigEndian.PutUint64(wide[:], commitBlock)

	msg := make([]byte, 0, MessageLength)
	msg = append(msg, wide[8-BlockWidth:]...)
	msg = append(msg, commit.Bytes()...)
	return msg, nil
}

// Digest is the keccak256 of the encoded message, the value the signer signs.
func Digest(message []byte) common.Hash {
	return crypto.Keccak256Hash(message)
}

// Commit derives the commitment of a 32-byte reveal.
func Commit(reveal common.Hash) common.Hash {
	return crypto.Keccak256Hash(reveal.Bytes())
}
