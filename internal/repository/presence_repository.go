package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pecha-tools/transcription-api/internal/models"
)

// PresenceRepository reads the shared presence channel from Redis. Each live
// worker heartbeats an entry under a hash keyed by user id; entries older than
// the TTL are treated as departed. The snapshot is advisory only; allocation
// correctness comes from the store-level claim, never from presence freshness.
type PresenceRepository struct {
	client     *redis.Client
	channelKey string
	ttl        time.Duration
	logger     *zap.Logger
}

// NewPresenceRepository constructs the repository.
func NewPresenceRepository(client *redis.Client, channelKey string, ttl time.Duration, logger *zap.Logger) *PresenceRepository {
	if channelKey == "" {
		channelKey = "presence:texts"
	}
	if ttl <= 0 {
		ttl = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceRepository{client: client, channelKey: channelKey, ttl: ttl, logger: logger}
}

type presenceEntry struct {
	TextID *int64    `json:"text_id,omitempty"`
	SeenAt time.Time `json:"seen_at"`
}

// Heartbeat records the member and the text it is currently viewing.
func (r *PresenceRepository) Heartbeat(ctx context.Context, userID string, textID *int64) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(presenceEntry{TextID: textID, SeenAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal presence entry: %w", err)
	}
	if err := r.client.HSet(ctx, r.channelKey, userID, payload).Err(); err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	// The hash expires as a whole; each heartbeat renews it.
	if err := r.client.Expire(ctx, r.channelKey, r.ttl*4).Err(); err != nil {
		r.logger.Warn("failed to refresh presence ttl", zap.Error(err))
	}
	return nil
}

// Leave removes the member from the channel.
func (r *PresenceRepository) Leave(ctx context.Context, userID string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.HDel(ctx, r.channelKey, userID).Err(); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	return nil
}

// Snapshot returns the current member set, dropping entries past the TTL.
func (r *PresenceRepository) Snapshot(ctx context.Context) (models.PresenceSnapshot, error) {
	snapshot := models.PresenceSnapshot{}
	if r.client == nil {
		return snapshot, nil
	}
	raw, err := r.client.HGetAll(ctx, r.channelKey).Result()
	if err != nil {
		return snapshot, fmt.Errorf("presence snapshot: %w", err)
	}

	cutoff := time.Now().UTC().Add(-r.ttl)
	stale := make([]string, 0)
	for userID, value := range raw {
		var entry presenceEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			r.logger.Warn("dropping malformed presence entry", zap.String("user_id", userID), zap.Error(err))
			stale = append(stale, userID)
			continue
		}
		if entry.SeenAt.Before(cutoff) {
			stale = append(stale, userID)
			continue
		}
		snapshot.Members = append(snapshot.Members, models.PresenceMember{
			UserID: userID,
			TextID: entry.TextID,
			SeenAt: entry.SeenAt,
		})
	}

	if len(stale) > 0 {
		if err := r.client.HDel(ctx, r.channelKey, stale...).Err(); err != nil {
			r.logger.Warn("failed to prune stale presence entries", zap.Error(err))
		}
	}
	return snapshot, nil
}
