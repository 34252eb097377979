package main

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goatclash/internal/auth"
	"goatclash/internal/commitment"
	"goatclash/internal/game"
)

const (
	schemeSecp256k1 = "secp256k1"
	schemeEd25519   = "ed25519"
)

// newRootCmd builds the croupier tooling. Every flag can also be given as
// CROUPIER_<FLAG> in the environment.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CROUPIER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "croupier",
		Short:         "Secret signer and operator tooling for the wagering engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	root.PersistentFlags().String("scheme", schemeSecp256k1, "signature scheme: secp256k1 or ed25519")

	root.AddCommand(
		keygenCmd(v),
		commitCmd(v),
		verifyCmd(v),
		rollCmd(v),
		tokenCmd(v),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keygenCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a secret signer key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch v.GetString("scheme") {
			case schemeEd25519:
				pub, priv, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return errors.Wrap(err, "generate ed25519 key")
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"scheme":      schemeEd25519,
					"private_key": hexutil.Encode(priv.Seed()),
					"address":     commitment.Ed25519Address(pub).Hex(),
				})
			case schemeSecp256k1:
				key, err := crypto.GenerateKey()
				if err != nil {
					return errors.Wrap(err, "generate secp256k1 key")
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"scheme":      schemeSecp256k1,
					"private_key": hexutil.Encode(crypto.FromECDSA(key)),
					"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
				})
			default:
				return errors.Errorf("unknown scheme %q", v.GetString("scheme"))
			}
		},
	}
}

type signer struct {
	address common.Address
	sign    func(block uint64, commit common.Hash) ([]byte, error)
}

func loadSigner(scheme, keyHex string) (*signer, error) {
	raw, err := hexutil.Decode(ensure0x(keyHex))
	if err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	switch scheme {
	case schemeEd25519:
		if len(raw) != ed25519.SeedSize {
			return nil, errors.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
		}
		priv := ed25519.NewKeyFromSeed(raw)
		return &signer{
			address: commitment.Ed25519Address(priv.Public().(ed25519.PublicKey)),
			sign: func(block uint64, commit common.Hash) ([]byte, error) {
				return commitment.SignEd25519(priv, block, commit)
			},
		}, nil
	case schemeSecp256k1:
		var key *ecdsa.PrivateKey
		if key, err = crypto.ToECDSA(raw); err != nil {
			return nil, errors.Wrap(err, "secp256k1 key")
		}
		return &signer{
			address: crypto.PubkeyToAddress(key.PublicKey),
			sign: func(block uint64, commit common.Hash) ([]byte, error) {
				return commitment.SignSecp256k1(key, block, commit)
			},
		}, nil
	default:
		return nil, errors.Errorf("unknown scheme %q", scheme)
	}
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

type commitOutput struct {
	Reveal      common.Hash    `json:"reveal"`
	Commitment  common.Hash    `json:"commitment"`
	CommitBlock uint64         `json:"commit_block"`
	Signature   hexutil.Bytes  `json:"signature"`
	Signer      common.Address `json:"signer"`
}

func commitCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Draw a reveal and sign its commitment for a block",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSigner(v.GetString("scheme"), v.GetString("key"))
			if err != nil {
				return err
			}

			var reveal common.Hash
			if r := v.GetString("reveal"); r != "" {
				b, err := hexutil.Decode(ensure0x(r))
				if err != nil || len(b) != common.HashLength {
					return errors.Errorf("reveal must be 32 bytes of hex")
				}
				reveal = common.BytesToHash(b)
			} else if reveal, err = game.GenerateReveal(); err != nil {
				return err
			}

			block := v.GetUint64("block")
			commit := commitment.Commit(reveal)
			sig, err := s.sign(block, commit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), commitOutput{
				Reveal:      reveal,
				Commitment:  commit,
				CommitBlock: block,
				Signature:   sig,
				Signer:      s.address,
			})
		},
	}
	cmd.Flags().String("key", "", "secret signer private key (hex)")
	cmd.Flags().Uint64("block", 0, "last block the commitment is valid for")
	cmd.Flags().String("reveal", "", "use this reveal instead of a random one")
	return cmd
}

func verifyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a commitment signature against a signer address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(v.GetString("signer")) {
				return errors.New("signer must be an address")
			}
			commitRaw, err := hexutil.Decode(ensure0x(v.GetString("commitment")))
			if err != nil || len(commitRaw) != common.HashLength {
				return errors.New("commitment must be 32 bytes of hex")
			}
			sig, err := hexutil.Decode(ensure0x(v.GetString("signature")))
			if err != nil {
				return errors.Wrap(err, "signature")
			}

			var verifier commitment.Verifier = commitment.Secp256k1{}
			if v.GetString("scheme") == schemeEd25519 {
				verifier = commitment.Ed25519{}
			}
			msg, err := commitment.Message(v.GetUint64("block"), common.BytesToHash(commitRaw))
			if err != nil {
				return err
			}
			if !verifier.Verify(msg, sig, common.HexToAddress(v.GetString("signer"))) {
				return errors.New("signature does not match signer")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
	cmd.Flags().String("signer", "", "secret signer address")
	cmd.Flags().Uint64("block", 0, "commit block")
	cmd.Flags().String("commitment", "", "commitment hash")
	cmd.Flags().String("signature", "", "signature (hex)")
	return cmd
}

// rollCmd recomputes a settled outcome from public data.
func rollCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roll",
		Short: "Recompute the outcome of a bet from its reveal and block hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reveal, err := hexutil.Decode(ensure0x(v.GetString("reveal")))
			if err != nil || len(reveal) != common.HashLength {
				return errors.New("reveal must be 32 bytes of hex")
			}
			blockHash, err := hexutil.Decode(ensure0x(v.GetString("block-hash")))
			if err != nil || len(blockHash) != common.HashLength {
				return errors.New("block hash must be 32 bytes of hex")
			}
			modulo := v.GetUint64("modulo")
			if modulo < 2 {
				return errors.New("modulo must be at least 2")
			}

			draw := game.Roll(common.BytesToHash(reveal), common.BytesToHash(blockHash), modulo, v.GetUint64("jackpot-modulo"))
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"commitment":     commitment.Commit(common.BytesToHash(reveal)),
				"entropy":        hexutil.EncodeBig(draw.Entropy.ToBig()),
				"outcome":        draw.Outcome,
				"jackpot_number": draw.Jackpot,
			})
		},
	}
	cmd.Flags().String("reveal", "", "revealed secret")
	cmd.Flags().String("block-hash", "", "hash of the commit block")
	cmd.Flags().Uint64("modulo", 0, "bet modulo")
	cmd.Flags().Uint64("jackpot-modulo", game.DefaultRules().JackpotModulo, "jackpot modulo")
	return cmd
}

func tokenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for an address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !common.IsHexAddress(v.GetString("address")) {
				return errors.New("address required")
			}
			tok, err := auth.GenerateToken(v.GetString("secret"), common.HexToAddress(v.GetString("address")),
				v.GetString("role"), v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("secret", "", "JWT signing secret")
	cmd.Flags().String("address", "", "account the token authenticates")
	cmd.Flags().String("role", "", "informational role claim")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
