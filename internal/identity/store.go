// Package identity stores user matching profiles in Redis. The engine reads
// a fresh profile on every pairing request and requeue, so edits made while
// a user waits or sits in a proposal take effect on their next entry into
// the pool.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/looprlabs/loopr/internal/engine"
)

const (
	// ProfilePrefix is the Redis key prefix for all profile hashes.
	ProfilePrefix = "identity:"

	// ProfileTTL is the time-to-live for profile keys in Redis.
	ProfileTTL = 1 * time.Hour
)

// Lifecycle statuses mirrored into the profile hash. Advisory only: the
// authoritative pool and match state lives in the engine process.
const (
	StatusIdle     = "idle"
	StatusWaiting  = "waiting"
	StatusProposed = "proposed"
	StatusChatting = "chatting"
)

// record is the raw Redis hash layout of a profile.
type record struct {
	UserID     string `redis:"user_id"`
	Interests  string `redis:"interests"` // comma-separated
	Preference string `redis:"preference"`
	Status     string `redis:"status"`
	Channel    string `redis:"channel"`    // shared channel while chatting
	UpdatedAt  int64  `redis:"updated_at"` // unix timestamp
}

// Info is the full stored view of a user, for admin surfaces.
type Info struct {
	UserID     string    `json:"user_id"`
	Interests  []string  `json:"interests"`
	Preference string    `json:"preference,omitempty"`
	Status     string    `json:"status,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store manages profiles in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a profile store connected to Redis.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("identity: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// SetProfile stores the user's interests and preference with a refreshed TTL.
func (s *Store) SetProfile(ctx context.Context, userID string, interests []string, preference string) error {
	key := ProfilePrefix + userID

	fields := map[string]interface{}{
		"user_id":    userID,
		"interests":  strings.Join(interests, ","),
		"preference": preference,
		"updated_at": time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ProfileTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("identity: set profile %s: %w", userID, err)
	}
	return nil
}

// CurrentProfile returns the user's stored profile, or nil if none exists.
// Implements the engine's Identity collaborator.
func (s *Store) CurrentProfile(ctx context.Context, userID string) (*engine.Profile, error) {
	key := ProfilePrefix + userID
	var rec record
	if err := s.client.HGetAll(ctx, key).Scan(&rec); err != nil {
		return nil, fmt.Errorf("identity: get profile %s: %w", userID, err)
	}
	if rec.UserID == "" {
		return nil, nil // not found
	}

	return &engine.Profile{
		Interests:  splitInterests(rec.Interests),
		Preference: engine.Preference(rec.Preference),
	}, nil
}

func splitInterests(csv string) []string {
	var interests []string
	for _, tag := range strings.Split(csv, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			interests = append(interests, tag)
		}
	}
	return interests
}

// SetStatus records where the user currently stands in the pairing
// lifecycle, along with the shared channel they occupy when chatting.
func (s *Store) SetStatus(ctx context.Context, userID, status, channelID string) error {
	key := ProfilePrefix + userID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":  status,
		"channel": channelID,
	})
	pipe.Expire(ctx, key, ProfileTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("identity: set status %s: %w", userID, err)
	}
	return nil
}

// Lookup returns everything stored for the user, or nil if no profile
// exists.
func (s *Store) Lookup(ctx context.Context, userID string) (*Info, error) {
	key := ProfilePrefix + userID
	var rec record
	if err := s.client.HGetAll(ctx, key).Scan(&rec); err != nil {
		return nil, fmt.Errorf("identity: lookup %s: %w", userID, err)
	}
	if rec.UserID == "" {
		return nil, nil
	}

	return &Info{
		UserID:     rec.UserID,
		Interests:  splitInterests(rec.Interests),
		Preference: rec.Preference,
		Status:     rec.Status,
		Channel:    rec.Channel,
		UpdatedAt:  time.Unix(rec.UpdatedAt, 0),
	}, nil
}

// Touch extends the profile's TTL without changing its contents.
func (s *Store) Touch(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, ProfilePrefix+userID, ProfileTTL).Err()
}

// Delete removes a profile from Redis.
func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.client.Del(ctx, ProfilePrefix+userID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
