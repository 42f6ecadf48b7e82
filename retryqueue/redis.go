package retryqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/evalgo/graphsync/subject"
)

// archivedChange is the durable representation of a dropped change: the
// subject is not JSON-serializable in general, so it is reduced to whatever
// external identifier the caller's resolver can produce — typically a
// lookup into the subject-connector registry. Changes whose subject has no
// known external-id are skipped by Archive without being logged.
type archivedChange struct {
	ExternalID string    `json:"externalId"`
	Property   string    `json:"property"`
	NewValue   any       `json:"newValue"`
	ChangedAt  time.Time `json:"changedAt"`
}

// Resolver maps a subject to the external identifier used to archive it.
type Resolver func(s subject.Subject) (externalID string, ok bool)

// RedisOverflow persists dropped changes to a Redis list so an operator can
// inspect or replay what the in-memory ring buffer could not hold. It is
// adapted from this module's Redis-backed job queue: same RPush/LTrim
// discipline, generalized from job envelopes to change envelopes.
type RedisOverflow struct {
	client   *redis.Client
	key      string
	resolve  Resolver
	maxItems int64
}

// NewRedisOverflow constructs an overflow archive backed by client, storing
// under key and retaining at most maxItems entries (oldest trimmed first).
func NewRedisOverflow(client *redis.Client, key string, maxItems int64, resolve Resolver) *RedisOverflow {
	return &RedisOverflow{client: client, key: key, resolve: resolve, maxItems: maxItems}
}

// Archive appends dropped changes to the Redis list. Changes whose subject
// has no resolvable external-id are skipped.
func (o *RedisOverflow) Archive(ctx context.Context, dropped []subject.PropertyChange) error {
	if len(dropped) == 0 {
		return nil
	}
	values := make([]any, 0, len(dropped))
	for _, c := range dropped {
		externalID, ok := o.resolve(c.Property.Subject)
		if !ok {
			continue
		}
		encoded, err := json.Marshal(archivedChange{
			ExternalID: externalID,
			Property:   c.Property.Name,
			NewValue:   c.NewValue,
			ChangedAt:  c.ChangedTimestamp,
		})
		if err != nil {
			return err
		}
		values = append(values, string(encoded))
	}
	if len(values) == 0 {
		return nil
	}
	if err := o.client.RPush(ctx, o.key, values...).Err(); err != nil {
		return err
	}
	if o.maxItems > 0 {
		return o.client.LTrim(ctx, o.key, -o.maxItems, -1).Err()
	}
	return nil
}

// Len reports how many archived entries are currently stored.
func (o *RedisOverflow) Len(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.key).Result()
}
