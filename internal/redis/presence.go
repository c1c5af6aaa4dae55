// Package redis mirrors room membership into Redis so that operators and other
// services can observe who is connected where. The hub never reads it back:
// routing always uses the in-memory registry.
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/mesh-signaling/internal/models"
	"github.com/redis/go-redis/v9"
)

// Store is the subset of the Redis command set the mirror uses
type Store interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// PeersKey is the set holding the members of a room
func PeersKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

// Presence applies hub room events to Redis from its own goroutine
type Presence struct {
	store  Store
	ttl    time.Duration
	events chan models.RoomEvent
	log    *slog.Logger
}

// NewPresence creates a mirror. Keys expire after ttl so a crashed server
// does not leave stale membership behind.
func NewPresence(store Store, ttl time.Duration, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		store:  store,
		ttl:    ttl,
		events: make(chan models.RoomEvent, 1024),
		log:    logger.With("component", "presence"),
	}
}

// OnRoomEvent queues an event without blocking the hub
func (p *Presence) OnRoomEvent(ev models.RoomEvent) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("Presence queue full, dropping event", "type", ev.Type, "room", ev.RoomID)
	}
}

// Run applies queued events until ctx is cancelled
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case ev := <-p.events:
			if err := p.apply(ctx, ev); err != nil {
				p.log.Warn("Failed to mirror room event", "type", ev.Type, "room", ev.RoomID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Presence) apply(ctx context.Context, ev models.RoomEvent) error {
	key := PeersKey(ev.RoomID)

	switch ev.Type {
	case models.RoomEventCreated:
		// A fresh room never inherits members from an earlier process.
		return p.store.Del(ctx, key).Err()
	case models.RoomEventMemberJoined:
		if err := p.store.SAdd(ctx, key, string(ev.Participant)).Err(); err != nil {
			return err
		}
		return p.store.Expire(ctx, key, p.ttl).Err()
	case models.RoomEventMemberLeft:
		return p.store.SRem(ctx, key, string(ev.Participant)).Err()
	case models.RoomEventDeleted:
		return p.store.Del(ctx, key).Err()
	}
	return nil
}

// count returns the mirrored member count of a room
func (p *Presence) count(ctx context.Context, roomID string) (int64, error) {
	return p.store.SCard(ctx, PeersKey(roomID)).Result()
}
