// Package rooms reserves chat room ids in Redis so several load generator
// processes aimed at the same chat service never draw the same room.
// Reservations are plain keys written with SET NX and a TTL, owned by the
// run that created them.
package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for room reservations.
	KeyPrefix = "loadgen:room:"

	// DefaultTTL bounds how long a reservation outlives a crashed run.
	DefaultTTL = 1 * time.Hour
)

// releaseScript deletes a reservation only if this run still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store manages room reservations for one run.
type Store struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
	log    *slog.Logger
}

// NewStore connects to Redis and verifies the connection. owner identifies
// the run; it is stored as the value of every reservation.
func NewStore(ctx context.Context, redisAddr, owner string, log *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("rooms: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, owner, log), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *redis.Client, owner string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{client: client, owner: owner, ttl: DefaultTTL, log: log}
}

// Reserve claims roomID for this run. It returns false if another run holds
// it. On Redis errors it fails open (returns true) so that an outage only
// loses cross-process uniqueness, not the run.
func (s *Store) Reserve(ctx context.Context, roomID int) (bool, error) {
	key := KeyPrefix + strconv.Itoa(roomID)
	ok, err := s.client.SetNX(ctx, key, s.owner, s.ttl).Result()
	if err != nil {
		s.log.Warn("rooms: redis SETNX failed, failing open", "key", key, "err", err)
		return true, err
	}
	return ok, nil
}

// Owner returns the run id reservations are written with.
func (s *Store) Owner() string {
	return s.owner
}

// Release drops the reservation for roomID if this run owns it.
func (s *Store) Release(ctx context.Context, roomID int) error {
	key := KeyPrefix + strconv.Itoa(roomID)
	return releaseScript.Run(ctx, s.client, []string{key}, s.owner).Err()
}

// ReleaseAll drops every reservation in ids, logging failures.
func (s *Store) ReleaseAll(ctx context.Context, ids []int) {
	for _, id := range ids {
		if err := s.Release(ctx, id); err != nil {
			s.log.Warn("rooms: release failed", "room", id, "err", err)
		}
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
