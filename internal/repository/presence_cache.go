package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	PresenceSetKey       = "presence:online"
	PresenceEventChannel = "presence:events"
)

// PresenceChange is published on PresenceEventChannel.
type PresenceChange struct {
	UserID uuid.UUID `json:"userId"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// PresenceCache mirrors the online set into Redis for other services.
type PresenceCache struct {
	client *redis.Client
}

func NewPresenceCache(client *redis.Client) *PresenceCache {
	return &PresenceCache{client: client}
}

func (c *PresenceCache) MarkOnline(ctx context.Context, userID uuid.UUID) error {
	return c.apply(ctx, userID, true)
}

func (c *PresenceCache) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	return c.apply(ctx, userID, false)
}

func (c *PresenceCache) apply(ctx context.Context, userID uuid.UUID, online bool) error {
	payload, err := json.Marshal(PresenceChange{UserID: userID, Online: online, At: time.Now().UTC()})
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if online {
			pipe.SAdd(ctx, PresenceSetKey, userID.String())
		} else {
			pipe.SRem(ctx, PresenceSetKey, userID.String())
		}
		pipe.Publish(ctx, PresenceEventChannel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror presence: %w", err)
	}
	return nil
}

// OnlineUsers reads the mirrored set. Members that are not uuids are skipped.
func (c *PresenceCache) OnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	members, err := c.client.SMembers(ctx, PresenceSetKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if id, err := uuid.Parse(m); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Ping reports whether the mirror's Redis answers.
func (c *PresenceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
