// Package settings persists the two user options that steer extraction and
// display. Writes are last-write-wins; no component other than the shell
// writes them.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/maltedev/webscout/internal/models"
	"github.com/redis/go-redis/v9"
)

var ErrUnknownKey = errors.New("unknown settings key")

const RedisKey = "webscout:settings"

type Store interface {
	// Get returns the stored values of keys. Keys never written are absent
	// from the result. Without keys every stored value is returned.
	Get(ctx context.Context, keys ...string) (map[string]bool, error)
	// Set writes the given keys and leaves all others untouched.
	Set(ctx context.Context, values map[string]bool) error
}

// Install writes the defaults used on first setup.
func Install(ctx context.Context, store Store) error {
	if err := store.Set(ctx, models.InstallDefaults().Map()); err != nil {
		return fmt.Errorf("failed to install default settings: %w", err)
	}
	return nil
}

// Load reads both options and applies the read-time defaults.
func Load(ctx context.Context, store Store) (models.Settings, error) {
	values, err := store.Get(ctx, models.SettingAutoExtract, models.SettingShowImages)
	if err != nil {
		return models.SettingsFromMap(nil), fmt.Errorf("failed to load settings: %w", err)
	}
	return models.SettingsFromMap(values), nil
}

func checkKeys(values map[string]bool) error {
	for k := range values {
		if !models.IsSettingKey(k) {
			return fmt.Errorf("%w: %q", ErrUnknownKey, k)
		}
	}
	return nil
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]bool)}
}

func (s *MemoryStore) Get(_ context.Context, keys ...string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool)
	if len(keys) == 0 {
		for k, v := range s.values {
			out[k] = v
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, values map[string]bool) error {
	if err := checkKeys(values); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

// HashClient is the part of the redis client the store needs.
type HashClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisStore keeps the options as fields of one redis hash.
type RedisStore struct {
	client HashClient
	key    string
}

func NewRedisStore(client HashClient) *RedisStore {
	return &RedisStore{client: client, key: RedisKey}
}

func (s *RedisStore) Get(ctx context.Context, keys ...string) (map[string]bool, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read settings hash: %w", err)
	}

	wanted := keys
	if len(wanted) == 0 {
		wanted = make([]string, 0, len(raw))
		for k := range raw {
			wanted = append(wanted, k)
		}
	}

	out := make(map[string]bool, len(wanted))
	for _, k := range wanted {
		v, ok := raw[k]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q for setting %s: %w", v, k, err)
		}
		out[k] = b
	}
	return out, nil
}

func (s *RedisStore) Set(ctx context.Context, values map[string]bool) error {
	if err := checkKeys(values); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}

	fields := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		fields = append(fields, k, strconv.FormatBool(v))
	}

	if err := s.client.HSet(ctx, s.key, fields...).Err(); err != nil {
		return fmt.Errorf("failed to write settings hash: %w", err)
	}
	return nil
}
