package config

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/tokenflow/pkg/common/errors"
	"github.com/vnykmshr/tokenflow/pkg/common/validation"
	"github.com/vnykmshr/tokenflow/pkg/ratelimit/retry"
)

// Defaults for RedisStore.
const (
	DefaultKeyPrefix    = "tokenflow:limiter"
	DefaultRedisTimeout = 500 * time.Millisecond
)

// RedisStore keeps limiter parameters in Redis so several processes can build
// identically configured limiters. Each limiter is a JSON string under
// <prefix>:<name>; the set <prefix>:names indexes them.
//
// Only static parameters are stored. Token state stays in each process and a
// loaded limiter always starts full.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// StoreOption configures a RedisStore.
type StoreOption func(*RedisStore)

// WithKeyPrefix sets the key prefix. Defaults to DefaultKeyPrefix.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithRedisTimeout bounds every Redis call. Defaults to DefaultRedisTimeout.
func WithRedisTimeout(timeout time.Duration) StoreOption {
	return func(s *RedisStore) {
		s.timeout = timeout
	}
}

// NewRedisStore returns a store using client.
func NewRedisStore(client redis.UniversalClient, opts ...StoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.NewValidationError(module, "redis", nil, "client is required")
	}

	s := &RedisStore{
		client:  client,
		prefix:  DefaultKeyPrefix,
		timeout: DefaultRedisTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := validation.ValidateNotEmpty(module, "key_prefix", s.prefix); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositiveDuration(module, "redis_timeout", s.timeout); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) namesKey() string {
	return s.prefix + ":names"
}

// Save validates cfg and stores it under name, replacing any previous value.
func (s *RedisStore) Save(ctx context.Context, name string, cfg retry.Config) error {
	if err := validation.ValidateNotEmpty(module, "limiter name", name); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("limiter %q: %w", name, err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(name), data, 0)
		pipe.SAdd(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return &RedisError{"save", err}
	}
	return nil
}

// Load returns the parameters stored under name. It returns an error wrapping
// errors.ErrNotFound when there are none.
func (s *RedisStore) Load(ctx context.Context, name string) (retry.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return retry.Config{}, fmt.Errorf("limiter %q: %w", name, errors.ErrNotFound)
	}
	if err != nil {
		return retry.Config{}, &RedisError{"load", err}
	}

	cfg := retry.DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return retry.Config{}, fmt.Errorf("limiter %q: decode stored config: %w", name, err)
	}
	return cfg, nil
}

// Delete removes name. Deleting a missing limiter is not an error.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(name))
		pipe.SRem(ctx, s.namesKey(), name)
		return nil
	})
	if err != nil {
		return &RedisError{"delete", err}
	}
	return nil
}

// List returns the stored limiter names in sorted order.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, &RedisError{"list", err}
	}
	sort.Strings(names)
	return names, nil
}

// SaveDocument validates doc and stores all of its limiters.
func (s *RedisStore) SaveDocument(ctx context.Context, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	for _, name := range doc.Names() {
		if err := s.Save(ctx, name, doc.Limiters[name]); err != nil {
			return err
		}
	}
	return nil
}

// LoadDocument reads every stored limiter into a Document.
func (s *RedisStore) LoadDocument(ctx context.Context) (*Document, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	doc := NewDocument()
	for _, name := range names {
		cfg, err := s.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		doc.Limiters[name] = cfg
	}
	return doc, nil
}

// RedisError represents a failed Redis operation.
type RedisError struct {
	Operation string
	Err       error
}

func (e *RedisError) Error() string {
	return "redis error in " + e.Operation + ": " + e.Err.Error()
}

func (e *RedisError) Unwrap() error {
	return e.Err
}
