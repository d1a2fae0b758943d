package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records seen bridge message IDs in Redis so redelivered messages
// are applied at most once per instance group.
type Deduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDeduper creates a deduper using the provided Redis client and TTL.
func NewDeduper(client *redis.Client, prefix string, ttl time.Duration) *Deduper {
	return &Deduper{client: client, prefix: prefix, ttl: ttl}
}

// Add records the message ID if it does not already exist. It returns true
// when the ID was newly added.
func (d *Deduper) Add(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
}
