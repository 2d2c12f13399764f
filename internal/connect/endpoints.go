package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EndpointSource supplies the round-robin candidate list of engine channel
// addresses for C6 (§4.6 names the requirement without specifying how the
// list is populated — supplemented, see SPEC_FULL.md §12).
type EndpointSource interface {
	Endpoints() []string
}

// StaticEndpointSource returns a fixed list from config.
type StaticEndpointSource struct {
	channels []string
}

func NewStaticEndpointSource(channels []string) *StaticEndpointSource {
	return &StaticEndpointSource{channels: channels}
}

func (s *StaticEndpointSource) Endpoints() []string { return s.channels }

// RedisEndpointSource reads the candidate list from a Redis set, refreshing
// it at most once per RefreshInterval so the poller never blocks on a
// network round trip every tick. Grounded on the teacher's GoRedisAdapter
// SMembers wrapper, used here read-only.
type RedisEndpointSource struct {
	rdb             *redis.Client
	setKey          string
	refreshInterval time.Duration

	cached    []string
	lastFetch time.Time
}

func NewRedisEndpointSource(addr, password string, db int, setKey string, refreshInterval time.Duration) (*RedisEndpointSource, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect: redis ping failed (%s): %w", addr, err)
	}
	return &RedisEndpointSource{
		rdb:             rdb,
		setKey:          setKey,
		refreshInterval: refreshInterval,
	}, nil
}

// Endpoints returns the last-fetched list, refreshing it synchronously if
// the refresh interval has elapsed. A fetch failure keeps serving the
// previously cached list rather than returning empty, since falling back to
// an empty candidate set would make C6 fail every endpoint immediately.
func (s *RedisEndpointSource) Endpoints() []string {
	if time.Since(s.lastFetch) < s.refreshInterval && s.cached != nil {
		return s.cached
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	members, err := s.rdb.SMembers(ctx, s.setKey).Result()
	if err != nil {
		return s.cached
	}
	s.cached = members
	s.lastFetch = time.Now()
	return s.cached
}

func (s *RedisEndpointSource) Close() error { return s.rdb.Close() }
