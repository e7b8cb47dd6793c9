package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// Hash fields of a stored entry. Content is kept as a raw value so arbitrary
// bytes survive a round trip.
const (
	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// redisKV stores each entry as a hash and keeps a lexicographic index of paths
// in a sorted set so prefix scans do not need KEYS.
type redisKV struct {
	client *backend.Client
	prefix string
}

// RedisOption configures a Redis backend.
type RedisOption func(*redisKV)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *redisKV) {
		r.prefix = prefix
	}
}

// NewRedisBackend creates a durable backend on an existing Redis client.
func NewRedisBackend(client *backend.Client, opts ...RedisOption) *KVBackend {
	kv := &redisKV{
		client: client,
		prefix: "warden:artifact:",
	}
	for _, opt := range opts {
		opt(kv)
	}
	return NewKVBackend("redis", kv)
}

// DialRedisBackend connects to address and creates a Redis backend.
func DialRedisBackend(address, password string, db int, opts ...RedisOption) *KVBackend {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisBackend(client, opts...)
}

func (r *redisKV) key(path string) string {
	return r.prefix + "file:" + path
}

func (r *redisKV) indexKey() string {
	return r.prefix + "index"
}

func (r *redisKV) Get(ctx context.Context, path string) (*Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry, err := decodeEntry(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", path, err)
	}
	return &entry, nil
}

func (r *redisKV) Put(ctx context.Context, path string, entry Entry) error {
	metadata := ""
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(path))
	pipe.HSet(ctx, r.key(path),
		fieldContent, entry.Content,
		fieldMetadata, metadata,
		fieldCreatedAt, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldUpdatedAt, entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	// All members share score 0 so the index is ordered lexicographically.
	pipe.ZAdd(ctx, r.indexKey(), backend.Z{Score: 0, Member: path})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (r *redisKV) Remove(ctx context.Context, path string) (bool, error) {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.key(path))
	pipe.ZRem(ctx, r.indexKey(), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to delete from redis: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *redisKV) Scan(ctx context.Context, prefix string) ([]Record, error) {
	rng := &backend.ZRangeBy{Min: "-", Max: "+"}
	if prefix != "" {
		rng = &backend.ZRangeBy{Min: "[" + prefix, Max: "(" + prefix + "\xff"}
	}
	paths, err := r.client.ZRangeByLex(ctx, r.indexKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}
	if len(paths) == 0 {
		return []Record{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*backend.MapStringStringCmd, len(paths))
	for i, p := range paths {
		cmds[i] = pipe.HGetAll(ctx, r.key(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	records := make([]Record, 0, len(paths))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Removed between index read and load.
			continue
		}
		entry, err := decodeEntry(fields)
		if err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", paths[i], err)
		}
		records = append(records, Record{Path: paths[i], Entry: entry})
	}
	return records, nil
}

func (r *redisKV) Close() error {
	return r.client.Close()
}

func decodeEntry(fields map[string]string) (Entry, error) {
	entry := Entry{Content: fields[fieldContent]}
	if raw := fields[fieldMetadata]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &entry.Metadata); err != nil {
			return Entry{}, fmt.Errorf("invalid metadata: %w", err)
		}
	}
	var err error
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return Entry{}, fmt.Errorf("invalid created_at: %w", err)
	}
	if entry.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err != nil {
		return Entry{}, fmt.Errorf("invalid updated_at: %w", err)
	}
	return entry, nil
}
