package chain

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Simulated is a deterministic devnet chain. Block n's hash is
// keccak256(seed || parent || n), so a given seed always yields the same chain.
type Simulated struct {
	mu     sync.RWMutex
	seed   common.Hash
	head   uint64
	hashes map[uint64]common.Hash
	logger zerolog.Logger
}

func NewSimulated(seed common.Hash, logger zerolog.Logger) *Simulated {
	s := &Simulated{
		seed:   seed,
		hashes: make(map[uint64]common.Hash),
		logger: logger.With().Str("component", "chain").Logger(),
	}
	s.hashes[0] = crypto.Keccak256Hash(seed.Bytes())
	return s
}

func (s *Simulated) Head(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

func (s *Simulated) BlockHash(_ context.Context, number uint64) (common.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[number]
	return h, ok, nil
}

// Mine seals n blocks and returns the new head.
func (s *Simulated) Mine(n int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		parent := s.hashes[s.head]
		s.head++

		var num [8]byte
		binary.BigEndian.PutUint64(num[:], s.head)
		s.hashes[s.head] = crypto.Keccak256Hash(s.seed.Bytes(), parent.Bytes(), num[:])

		if s.head >= HashWindow {
			delete(s.hashes, s.head-HashWindow)
		}
	}
	return s.head
}

// Run seals one block per interval until ctx is done.
func (s *Simulated) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", interval).Msg("simulated chain started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("simulated chain stopped")
			return
		case <-ticker.C:
			head := s.Mine(1)
			s.logger.Debug().Uint64("head", head).Msg("block sealed")
		}
	}
}
