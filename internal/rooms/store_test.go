package rooms

import (
	"context"
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
)

// testRooms are well outside the generator's default id range.
var testRooms = []int{-1001, -1002, -1003}

// newTestStore returns a Store on a local Redis and clears the test room keys.
// Tests that call it require Redis on localhost:6379 and are skipped
// otherwise.
func newTestStore(t *testing.T, owner string) (*Store, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanKeys := func() {
		for _, id := range testRooms {
			client.Del(ctx, KeyPrefix+strconv.Itoa(id))
		}
	}
	cleanKeys()
	t.Cleanup(func() {
		cleanKeys()
		client.Close()
	})
	return NewStoreWithClient(client, owner, nil), client
}

func TestReserve_FirstWins(t *testing.T) {
	a, client := newTestStore(t, "run-a")
	b := NewStoreWithClient(client, "run-b", nil)
	ctx := context.Background()

	ok, err := a.Reserve(ctx, testRooms[0])
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if !ok {
		t.Fatal("expected first reservation to succeed")
	}

	ok, err = b.Reserve(ctx, testRooms[0])
	if err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	if ok {
		t.Fatal("expected second run to be refused")
	}

	owner, err := client.Get(ctx, KeyPrefix+strconv.Itoa(testRooms[0])).Result()
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	if owner != "run-a" {
		t.Errorf("owner = %q, want %q", owner, "run-a")
	}
}

func TestReserve_SetsTTL(t *testing.T) {
	s, client := newTestStore(t, "run-a")
	ctx := context.Background()

	if _, err := s.Reserve(ctx, testRooms[1]); err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}
	ttl, err := client.TTL(ctx, KeyPrefix+strconv.Itoa(testRooms[1])).Result()
	if err != nil {
		t.Fatalf("TTL error: %v", err)
	}
	if ttl <= 0 || ttl > DefaultTTL {
		t.Errorf("ttl = %v, want (0, %v]", ttl, DefaultTTL)
	}
}

func TestRelease_OnlyOwner(t *testing.T) {
	a, client := newTestStore(t, "run-a")
	b := NewStoreWithClient(client, "run-b", nil)
	ctx := context.Background()
	key := KeyPrefix + strconv.Itoa(testRooms[2])

	if _, err := a.Reserve(ctx, testRooms[2]); err != nil {
		t.Fatalf("Reserve() error: %v", err)
	}

	// Another run cannot drop it.
	if err := b.Release(ctx, testRooms[2]); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if n, _ := client.Exists(ctx, key).Result(); n != 1 {
		t.Fatal("reservation released by non-owner")
	}

	a.ReleaseAll(ctx, []int{testRooms[2]})
	if n, _ := client.Exists(ctx, key).Result(); n != 0 {
		t.Fatal("reservation still present after owner release")
	}
}
