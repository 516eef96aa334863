// Package offlinequeue implements the per-user offline delivery queue
// (spec §4.I): a bounded, capped Redis list of pending push packets.
// GetBatch and Clear read and empty a mailbox; privchatd itself calls
// only Enqueue and RemoveMessageByID, and its sync path replays missed
// messages from the message repository, not from this queue.
//
// Grounded on the pipelined LPush/LTrim/Expire list pattern used by
// other_examples' chat_repository.go recent-message cache (same
// bounded-list-as-mailbox idiom, applied here to undelivered pushes
// instead of recent-history).
package offlinequeue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/privchat/privchat/internal/wire"
)

const (
	defaultMaxLen = 100
	defaultTTL    = 24 * time.Hour
)

// Queue is the Redis-backed offline mailbox.
type Queue struct {
	client *redis.Client
	maxLen int64
	ttl    time.Duration
}

// New builds a Queue against client with the spec-default cap and TTL.
func New(client *redis.Client) *Queue {
	return &Queue{client: client, maxLen: defaultMaxLen, ttl: defaultTTL}
}

func key(userID uint64) string {
	return fmt.Sprintf("offline:queue:%d", userID)
}

// Enqueue appends packet to userID's mailbox, trimming to the cap and
// refreshing the TTL. Eviction of the oldest entry under the cap is
// silent: spec's Open Question decision is that evicted entries are not
// separately re-published.
func (q *Queue) Enqueue(ctx context.Context, userID uint64, packet []byte) error {
	pipe := q.client.Pipeline()
	pipe.LPush(ctx, key(userID), packet)
	pipe.LTrim(ctx, key(userID), 0, q.maxLen-1)
	pipe.Expire(ctx, key(userID), q.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("offlinequeue: enqueue for user %d: %w", userID, err)
	}
	return nil
}

// EnqueueBatch fans Enqueue out to every userID in one round trip.
func (q *Queue) EnqueueBatch(ctx context.Context, userIDs []uint64, packet []byte) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	for _, uid := range userIDs {
		pipe.LPush(ctx, key(uid), packet)
		pipe.LTrim(ctx, key(uid), 0, q.maxLen-1)
		pipe.Expire(ctx, key(uid), q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("offlinequeue: enqueue batch: %w", err)
	}
	return nil
}

// GetBatch returns up to limit pending packets for userID, oldest first
// (the list is LPush'd, so the stored order is newest-first; this
// reverses it before returning).
func (q *Queue) GetBatch(ctx context.Context, userID uint64, limit int64) ([][]byte, error) {
	raw, err := q.client.LRange(ctx, key(userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: get batch for user %d: %w", userID, err)
	}
	out := make([][]byte, len(raw))
	for i, s := range raw {
		out[len(raw)-1-i] = []byte(s)
	}
	return out, nil
}

// Len reports the number of packets currently queued for userID.
func (q *Queue) Len(ctx context.Context, userID uint64) (int64, error) {
	n, err := q.client.LLen(ctx, key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("offlinequeue: len for user %d: %w", userID, err)
	}
	return n, nil
}

// RemoveMessageByID scrubs every queued packet for userID whose
// server_message_id matches messageID, used by revoke to stop a pending
// copy from draining after the sender retracted it (spec §4.H
// "Revoke/delete"). Best-effort: read-filter-rewrite, not atomic against a
// concurrent Enqueue, matching the other list operations' semantics.
func (q *Queue) RemoveMessageByID(ctx context.Context, userID, messageID uint64) error {
	raw, err := q.client.LRange(ctx, key(userID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("offlinequeue: remove message %d for user %d: %w", messageID, userID, err)
	}

	kept := make([]any, 0, len(raw))
	removed := false
	for _, s := range raw {
		var push wire.PushMessageRequest
		if err := json.Unmarshal([]byte(s), &push); err == nil && push.ServerMessageID == messageID {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if !removed {
		return nil
	}

	pipe := q.client.Pipeline()
	pipe.Del(ctx, key(userID))
	if len(kept) > 0 {
		pipe.RPush(ctx, key(userID), kept...)
		pipe.Expire(ctx, key(userID), q.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("offlinequeue: remove message %d for user %d: rewrite: %w", messageID, userID, err)
	}
	return nil
}

// Clear drops userID's entire mailbox.
func (q *Queue) Clear(ctx context.Context, userID uint64) error {
	if err := q.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("offlinequeue: clear for user %d: %w", userID, err)
	}
	return nil
}
