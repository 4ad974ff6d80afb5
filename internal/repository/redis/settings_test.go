package redisrepo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"torrentstream/qbtcontrol/internal/domain"
)

func TestSettingsCodec(t *testing.T) {
	in := domain.ConnectionSettings{Host: "http://qbt:8080", Username: "admin", Password: "pw", UpdatedAt: 42}
	fields := map[string]string{}
	for k, v := range encodeSettings(in) {
		fields[k] = v.(string)
	}
	out, found, err := decodeSettings(fields)
	if err != nil || !found {
		t.Fatalf("decode: found=%v err=%v", found, err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestDecodeEmptyHashIsNotFound(t *testing.T) {
	_, found, err := decodeSettings(map[string]string{})
	if err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
}

func TestDecodeRejectsBadTimestamp(t *testing.T) {
	_, _, err := decodeSettings(map[string]string{"host": "h", "updatedAt": "yesterday"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNewSettingsRepositoryDefaultKey(t *testing.T) {
	repo := NewSettingsRepository(nil, "  ")
	if repo.key != defaultSettingsKey {
		t.Fatalf("unexpected key %q", repo.key)
	}
}

func TestIntegrationSettingsRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: time.Second})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	key := fmt.Sprintf("qbtcontrol:test:%d", time.Now().UnixNano())
	defer client.Del(context.Background(), key)
	repo := NewSettingsRepository(client, key)

	if _, found, err := repo.Load(ctx); err != nil || found {
		t.Fatalf("expected empty store, found=%v err=%v", found, err)
	}
	want := domain.ConnectionSettings{Host: "http://qbt:8080", Username: "admin", Password: "pw", UpdatedAt: 7}
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := repo.Load(ctx)
	if err != nil || !found || got != want {
		t.Fatalf("load: got %+v found=%v err=%v", got, found, err)
	}
}
