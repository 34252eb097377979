package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"goatclash/internal/game"
)

const (
	EventsChannel  = "goatclash:events"
	RecentKey      = "goatclash:settled:recent"
	betKeyPrefix   = "goatclash:bet:"
	recentLimit    = 100
	resolvedBetTTL = 1 * time.Hour
)

// Service is the redis side of the event stream: every event is published on
// EventsChannel, bets are cached by commitment and settlements kept in a
// capped recent list.
type Service interface {
	game.EventSink
	GetClient() *redis.Client
	Recent(ctx context.Context, limit int64) ([]game.BetView, error)
	CachedBet(ctx context.Context, commitment string) (*game.BetView, error)
	Health() map[string]string
	Close() error
}

type service struct {
	client *redis.Client
	logger zerolog.Logger
}

var (
	redisAddr     = getEnv("REDIS_URL", "localhost:6379")
	redisPassword = getEnv("REDIS_PASSWORD", "")
	redisDB       = getEnvAsInt("REDIS_DB", 0)
	cacheInstance *service
)

// New connects to redis, or returns nil when it is unreachable so the service
// can run without it.
func New(logger zerolog.Logger) Service {
	if cacheInstance != nil {
		return cacheInstance
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Password:     redisPassword,
		DB:           redisDB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Str("addr", redisAddr).Msg("redis unavailable, running without cache")
		client.Close()
		return nil
	}
	logger.Info().Str("addr", redisAddr).Msg("redis connected")

	cacheInstance = &service{client: client, logger: logger}
	return cacheInstance
}

func (s *service) GetClient() *redis.Client {
	return s.client
}

func (s *service) Name() string {
	return "redis"
}

// Handle runs in dispatcher order, so the recent list is in settlement order.
func (s *service) Handle(ctx context.Context, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, EventsChannel, data)
	if ev.Bet != nil {
		bet, err := json.Marshal(ev.Bet)
		if err != nil {
			return errors.Wrap(err, "marshal bet")
		}
		ttl := time.Duration(0)
		if ev.Bet.Status != game.StatusPending {
			ttl = resolvedBetTTL
		}
		pipe.Set(ctx, betKeyPrefix+ev.Bet.Commitment.Hex(), bet, ttl)
		if ev.Type == game.EventPayment {
			pipe.LPush(ctx, RecentKey, bet)
			pipe.LTrim(ctx, RecentKey, 0, recentLimit-1)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis event %d", ev.Seq)
	}
	return nil
}

// Recent returns the latest settlements, newest first.
func (s *service) Recent(ctx context.Context, limit int64) ([]game.BetView, error) {
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}
	raw, err := s.client.LRange(ctx, RecentKey, 0, limit-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "recent settlements")
	}

	bets := make([]game.BetView, 0, len(raw))
	for _, r := range raw {
		var v game.BetView
		if err := json.Unmarshal([]byte(r), &v); err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed recent entry")
			continue
		}
		bets = append(bets, v)
	}
	return bets, nil
}

// CachedBet returns nil without error on a miss.
func (s *service) CachedBet(ctx context.Context, commitment string) (*game.BetView, error) {
	raw, err := s.client.Get(ctx, betKeyPrefix+commitment).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cached bet")
	}
	var v game.BetView
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, errors.Wrap(err, "decode cached bet")
	}
	return &v, nil
}

func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	_, err := s.client.Ping(ctx).Result()
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("redis down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "Redis is healthy"

	poolStats := s.client.PoolStats()
	stats["hits"] = strconv.FormatUint(uint64(poolStats.Hits), 10)
	stats["misses"] = strconv.FormatUint(uint64(poolStats.Misses), 10)
	stats["timeouts"] = strconv.FormatUint(uint64(poolStats.Timeouts), 10)
	stats["total_conns"] = strconv.FormatUint(uint64(poolStats.TotalConns), 10)
	stats["idle_conns"] = strconv.FormatUint(uint64(poolStats.IdleConns), 10)

	return stats
}

func (s *service) Close() error {
	s.logger.Info().Msg("disconnecting from redis")
	cacheInstance = nil
	return s.client.Close()
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
