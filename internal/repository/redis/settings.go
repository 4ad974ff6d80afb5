package redisrepo

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"torrentstream/qbtcontrol/internal/domain"
)

const defaultSettingsKey = "qbtcontrol:settings:connection:v1"

// SettingsRepository keeps the connection settings in a single hash.
type SettingsRepository struct {
	client redis.UniversalClient
	key    string
}

func NewSettingsRepository(client redis.UniversalClient, key string) *SettingsRepository {
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultSettingsKey
	}
	return &SettingsRepository{client: client, key: storeKey}
}

func (r *SettingsRepository) Load(ctx context.Context) (domain.ConnectionSettings, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ConnectionSettings{}, false, nil
		}
		return domain.ConnectionSettings{}, false, err
	}
	return decodeSettings(fields)
}

func (r *SettingsRepository) Save(ctx context.Context, s domain.ConnectionSettings) error {
	return r.client.HSet(ctx, r.key, encodeSettings(s)).Err()
}

func encodeSettings(s domain.ConnectionSettings) map[string]any {
	return map[string]any{
		"host":      s.Host,
		"username":  s.Username,
		"password":  s.Password,
		"updatedAt": strconv.FormatInt(s.UpdatedAt, 10),
	}
}

func decodeSettings(fields map[string]string) (domain.ConnectionSettings, bool, error) {
	if len(fields) == 0 {
		return domain.ConnectionSettings{}, false, nil
	}
	s := domain.ConnectionSettings{
		Host:     fields["host"],
		Username: fields["username"],
		Password: fields["password"],
	}
	if raw := strings.TrimSpace(fields["updatedAt"]); raw != "" {
		updatedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.ConnectionSettings{}, false, err
		}
		s.UpdatedAt = updatedAt
	}
	return s, true, nil
}
