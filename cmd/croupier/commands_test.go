package main

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goatclash/internal/auth"
	"goatclash/internal/commitment"
)

const signerKeyHex = "a3abc3cdad875e86ca60dfff15cc889c5817db86489f7d4ed3ffd3f9b7a80b71"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommitThenVerify(t *testing.T) {
	for _, scheme := range []string{schemeSecp256k1, schemeEd25519} {
		t.Run(scheme, func(t *testing.T) {
			key := signerKeyHex
			if scheme == schemeEd25519 {
				out, err := run(t, "keygen", "--scheme", scheme)
				require.NoError(t, err)
				var k map[string]string
				require.NoError(t, json.Unmarshal([]byte(out), &k))
				key = k["private_key"]
			}

			out, err := run(t, "commit", "--scheme", scheme, "--key", key, "--block", "120")
			require.NoError(t, err)
			var c commitOutput
			require.NoError(t, json.Unmarshal([]byte(out), &c))
			assert.Equal(t, commitment.Commit(c.Reveal), c.Commitment)
			assert.Equal(t, uint64(120), c.CommitBlock)

			out, err = run(t, "verify", "--scheme", scheme,
				"--signer", c.Signer.Hex(),
				"--block", "120",
				"--commitment", c.Commitment.Hex(),
				"--signature", c.Signature.String())
			require.NoError(t, err)
			assert.Equal(t, "valid", strings.TrimSpace(out))

			_, err = run(t, "verify", "--scheme", scheme,
				"--signer", c.Signer.Hex(),
				"--block", "121",
				"--commitment", c.Commitment.Hex(),
				"--signature", c.Signature.String())
			assert.Error(t, err, "signature is bound to its block")
		})
	}
}

func TestCommitWithFixedReveal(t *testing.T) {
	reveal := common.HexToHash("0x01")
	out, err := run(t, "commit", "--key", signerKeyHex, "--block", "7", "--reveal", reveal.Hex())
	require.NoError(t, err)

	var c commitOutput
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, reveal, c.Reveal)
	assert.Equal(t, "0xb10e2d527612073b26eecdfd717e6a320cf44b4afac2b0732d9fcbe2b7fa0cf6", c.Commitment.Hex())
}

func TestRoll(t *testing.T) {
	out, err := run(t, "roll",
		"--reveal", common.HexToHash("0x01").Hex(),
		"--block-hash", common.HexToHash("0x02").Hex(),
		"--modulo", "6")
	require.NoError(t, err)

	var r map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	outcome, err := strconv.Atoi(strings.TrimSpace(jsonNumber(r["outcome"])))
	require.NoError(t, err)
	assert.True(t, outcome >= 0 && outcome < 6)

	_, err = run(t, "roll", "--reveal", "0x01", "--block-hash", common.HexToHash("0x02").Hex(), "--modulo", "6")
	assert.Error(t, err)
}

func jsonNumber(v interface{}) string {
	f, _ := v.(float64)
	return strconv.FormatFloat(f, 'f', 0, 64)
}

func TestTokenCommand(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	out, err := run(t, "token", "--secret", "s3cret", "--address", addr.Hex(), "--ttl", "1h")
	require.NoError(t, err)

	got, _, err := auth.ParseToken("s3cret", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestEnvironmentFlags(t *testing.T) {
	t.Setenv("CROUPIER_KEY", signerKeyHex)
	t.Setenv("CROUPIER_BLOCK", "9")
	out, err := run(t, "commit")
	require.NoError(t, err)

	var c commitOutput
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, uint64(9), c.CommitBlock)
}
