package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"

	"goatclash/internal/access"
	"goatclash/internal/game"
	"goatclash/internal/logging"
)

// Config holds the service configuration read from the environment. Redis and
// Postgres read their own variables in their packages.
type Config struct {
	Environment    string
	Server         ServerConfig
	Auth           AuthConfig
	Engine         EngineConfig
	Chain          ChainConfig
	Kafka          KafkaConfig
	Logging        logging.Config
	Dev            DevConfig
	MigrationsPath string
}

type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins string
	RateLimit      int
}

type AuthConfig struct {
	JWTSecret string
}

type EngineConfig struct {
	// Self is the custody account the engine uses on the token ledger.
	Self      common.Address
	Roles     access.Roles
	Token     common.Address
	MaxProfit *uint256.Int
	Rules     game.Rules
	// Verifier is "secp256k1" or "ed25519".
	Verifier          string
	ResolvedCacheSize int
}

type ChainConfig struct {
	// RPCURL selects a JSON-RPC node; empty runs the simulated chain.
	RPCURL        string
	BlockInterval time.Duration
	Seed          string
	CacheSize     int
	Confirmations uint64
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// DevConfig mints balances on the in-memory token when running without a node.
type DevConfig struct {
	Token         common.Address
	HouseBalance  *uint256.Int
	Players       []common.Address
	PlayerBalance *uint256.Int
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

func (c *Config) Simulated() bool {
	return c.Chain.RPCURL == ""
}

func Load() (*Config, error) {
	var (
		cfg Config
		err error
		p   parser
	)

	cfg.Environment = getEnv("APP_ENV", "development")
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", "./migrations")

	cfg.Server = ServerConfig{
		Port:           getEnvAsInt("PORT", 8080),
		ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		RateLimit:      getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
	}

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	if cfg.Auth.JWTSecret == "" && !cfg.IsDevelopment() {
		return nil, errors.New("JWT_SECRET is required outside development")
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "goatclash-dev-secret"
	}

	defaults := game.DefaultRules()
	rules := game.Rules{
		HouseEdgeBps:          p.uint("GAME_HOUSE_EDGE_BPS", defaults.HouseEdgeBps),
		HouseEdgeMinimum:      p.amount("GAME_HOUSE_EDGE_MINIMUM", defaults.HouseEdgeMinimum),
		MinBet:                p.amount("GAME_MIN_BET", defaults.MinBet),
		MaxAmount:             p.amount("GAME_MAX_AMOUNT", defaults.MaxAmount),
		MaxModulo:             p.uint("GAME_MAX_MODULO", defaults.MaxModulo),
		MaxMaskModulo:         p.uint("GAME_MAX_MASK_MODULO", defaults.MaxMaskModulo),
		BetExpirationBlocks:   p.uint("GAME_BET_EXPIRATION_BLOCKS", defaults.BetExpirationBlocks),
		BlockHashSafetyMargin: p.uint("GAME_BLOCKHASH_SAFETY_MARGIN", defaults.BlockHashSafetyMargin),
		MinJackpotBet:         p.amount("GAME_MIN_JACKPOT_BET", defaults.MinJackpotBet),
		JackpotFee:            p.amount("GAME_JACKPOT_FEE", defaults.JackpotFee),
		JackpotModulo:         p.uint("GAME_JACKPOT_MODULO", defaults.JackpotModulo),
		JackpotShare:          p.amount("GAME_JACKPOT_SHARE", defaults.JackpotShare),
		Collection:            game.CollectionMode(getEnv("GAME_COLLECTION_MODE", string(defaults.Collection))),
	}
	if rules.Collection != game.CollectDeferred && rules.Collection != game.CollectEscrow {
		return nil, errors.Errorf("GAME_COLLECTION_MODE %q: want deferred or escrow", rules.Collection)
	}

	cfg.Engine = EngineConfig{
		Self: p.address("ENGINE_ADDRESS", common.HexToAddress("0x00000000000000000000000000000000000be77e")),
		Roles: access.Roles{
			Owner:        p.address("ENGINE_OWNER", common.Address{}),
			Croupier:     p.address("ENGINE_CROUPIER", common.Address{}),
			SecretSigner: p.address("ENGINE_SECRET_SIGNER", common.Address{}),
		},
		Token:             p.address("ENGINE_TOKEN", common.Address{}),
		MaxProfit:         p.amount("ENGINE_MAX_PROFIT", new(uint256.Int)),
		Rules:             rules,
		Verifier:          getEnv("ENGINE_SIGNATURE_SCHEME", "secp256k1"),
		ResolvedCacheSize: getEnvAsInt("ENGINE_RESOLVED_CACHE_SIZE", 4096),
	}
	if cfg.Engine.Roles.Owner == (common.Address{}) {
		return nil, errors.New("ENGINE_OWNER is required")
	}

	cfg.Chain = ChainConfig{
		RPCURL:        getEnv("CHAIN_RPC_URL", ""),
		BlockInterval: getEnvAsDuration("SIM_BLOCK_INTERVAL", 2*time.Second),
		Seed:          getEnv("SIM_SEED", "goatclash-devnet"),
		CacheSize:     getEnvAsInt("CHAIN_HASH_CACHE_SIZE", 1024),
		Confirmations: p.uint("CHAIN_CONFIRMATIONS", 1),
	}

	cfg.Kafka = KafkaConfig{
		Brokers: getEnvAsList("KAFKA_BROKERS"),
		Topic:   getEnv("KAFKA_TOPIC", "goatclash.events"),
	}

	cfg.Logging = logging.Config{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
		Output: getEnv("LOG_OUTPUT", "stdout"),
	}

	cfg.Dev = DevConfig{
		Token:         p.address("DEV_TOKEN_ADDRESS", common.HexToAddress("0x000000000000000000000000000000000000c0de")),
		HouseBalance:  p.amount("DEV_TOKEN_HOUSE_BALANCE", game.Tokens(1_000_000)),
		Players:       p.addresses("DEV_TOKEN_PLAYERS"),
		PlayerBalance: p.amount("DEV_TOKEN_PLAYER_BALANCE", game.Tokens(10_000)),
	}

	if err = p.err; err != nil {
		return nil, err
	}
	if err = rules.Validate(); err != nil {
		return nil, errors.Wrap(err, "game rules")
	}
	return &cfg, nil
}

// parser keeps the first malformed value so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = errors.Wrapf(err, "%s", key)
	}
}

func (p *parser) uint(key string, defaultVal uint64) uint64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		p.fail(key, err)
		return defaultVal
	}
	return n
}

// amount reads token base units in decimal.
func (p *parser) amount(key string, defaultVal *uint256.Int) *uint256.Int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal.Clone()
	}
	n, err := uint256.FromDecimal(val)
	if err != nil {
		p.fail(key, err)
		return defaultVal.Clone()
	}
	return n
}

func (p *parser) address(key string, defaultVal common.Address) common.Address {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if !common.IsHexAddress(val) {
		p.fail(key, errors.Errorf("not an address: %q", val))
		return defaultVal
	}
	return common.HexToAddress(val)
}

func (p *parser) addresses(key string) []common.Address {
	var out []common.Address
	for _, v := range getEnvAsList(key) {
		if !common.IsHexAddress(v) {
			p.fail(key, errors.Errorf("not an address: %q", v))
			continue
		}
		out = append(out, common.HexToAddress(v))
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
