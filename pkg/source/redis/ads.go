// Package redis is an advertisement source backed by Redis. Each placement is
// a list of JSON-encoded ads stored under prefix+placement.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitrine-media/vitrine/pkg/models"
)

// DefaultPrefix namespaces ad slot keys.
const DefaultPrefix = "vitrine:ads:"

// AdStore reads and writes ad slots.
type AdStore struct {
	client *redis.Client
	prefix string
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, addr, password string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	if pong != "PONG" {
		client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// New wraps client. An empty prefix uses DefaultPrefix.
func New(client *redis.Client, prefix string) *AdStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &AdStore{client: client, prefix: prefix}
}

// AdSlots returns every placement and its ads in list order.
func (s *AdStore) AdSlots(ctx context.Context) (map[string][]models.Advertisement, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan ad slots: %w", err)
	}

	slots := make(map[string][]models.Advertisement, len(keys))
	if len(keys) == 0 {
		return slots, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.LRange(ctx, key, 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read ad slots: %w", err)
	}

	for i, key := range keys {
		placement := strings.TrimPrefix(key, s.prefix)
		for _, raw := range cmds[i].Val() {
			var ad models.Advertisement
			if err := json.Unmarshal([]byte(raw), &ad); err != nil {
				return nil, fmt.Errorf("decode ad in %s: %w", placement, err)
			}
			if ad.Placement == "" {
				ad.Placement = placement
			}
			slots[placement] = append(slots[placement], ad)
		}
	}
	return slots, nil
}

// SetSlot replaces the ads of a placement atomically. An empty ads slice
// removes the placement.
func (s *AdStore) SetSlot(ctx context.Context, placement string, ads []models.Advertisement) error {
	if placement == "" {
		return fmt.Errorf("empty placement")
	}
	key := s.prefix + placement
	values := make([]any, 0, len(ads))
	for _, ad := range ads {
		ad.Placement = placement
		data, err := json.Marshal(ad)
		if err != nil {
			return fmt.Errorf("encode ad %s: %w", ad.ID, err)
		}
		values = append(values, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write ad slot %s: %w", placement, err)
	}
	return nil
}

// Close releases the connection.
func (s *AdStore) Close() error {
	return s.client.Close()
}
