package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	logging "github.com/ipfs/go-log/v2"
)

var redisLog = logging.Logger("session/redis")

// Redis key layout: one hash per session for the scalar fields, one list for
// the append-only candidate sequence, and one pub/sub channel that carries a
// change ping. Subscribers re-read the full record on every ping, which gives
// the snapshot-replay semantics the signaling layer expects.
const (
	redisKeyPrefix  = "call:"
	redisCandSuffix = ":cand"
	redisChanSuffix = ":events"
)

// RedisStore is a Store backed by a shared Redis instance. Field merges are
// plain HSET writes (last write per field wins); the candidate list only ever
// grows via RPUSH.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing client. Records expire after ttl so
// abandoned call attempts do not accumulate; ttl <= 0 disables expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// OpenRedisStore dials addr and validates connectivity with a ping.
func OpenRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}
	return NewRedisStore(rdb, ttl), nil
}

func (r *RedisStore) key(id string) string     { return redisKeyPrefix + id }
func (r *RedisStore) candKey(id string) string { return redisKeyPrefix + id + redisCandSuffix }
func (r *RedisStore) channel(id string) string { return redisKeyPrefix + id + redisChanSuffix }

// Create writes the scalar fields of s as a hash and announces the change.
func (r *RedisStore) Create(ctx context.Context, s *CallSession) error {
	fields := map[string]any{
		"id":         s.ID,
		"caller":     s.CallerID,
		"receiver":   s.ReceiverID,
		"call_type":  string(s.Type),
		"status":     string(s.Status),
		"created_ms": s.CreatedAt.UnixMilli(),
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.key(s.ID), fields)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(s.ID), r.ttl)
		pipe.Expire(ctx, r.candKey(s.ID), r.ttl)
	}
	pipe.Publish(ctx, r.channel(s.ID), "create")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateFields merges the non-nil fields into the hash.
func (r *RedisStore) UpdateFields(ctx context.Context, id string, f Fields) error {
	exists, err := r.rdb.Exists(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	fields := map[string]any{}
	if f.Status != nil {
		fields["status"] = string(*f.Status)
	}
	if f.CallerSDP != nil {
		fields["caller_sdp"] = *f.CallerSDP
	}
	if f.ReceiverSDP != nil {
		fields["receiver_sdp"] = *f.ReceiverSDP
	}

	pipe := r.rdb.TxPipeline()
	if len(fields) > 0 {
		pipe.HSet(ctx, r.key(id), fields)
	}
	if f.Status != nil && *f.Status == StatusConnected {
		// First CONNECTED write stamps the start time; HSETNX makes the
		// double-write from racing connected signals harmless.
		pipe.HSetNX(ctx, r.key(id), "start_ms", time.Now().UnixMilli())
	}
	pipe.Publish(ctx, r.channel(id), "update")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// AppendCandidates pushes tokens to the candidate list in arrival order.
func (r *RedisStore) AppendCandidates(ctx context.Context, id string, cands ...string) error {
	if len(cands) == 0 {
		return nil
	}
	vals := make([]any, len(cands))
	for i, c := range cands {
		vals[i] = c
	}
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, r.candKey(id), vals...)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.candKey(id), r.ttl)
	}
	pipe.Publish(ctx, r.channel(id), "candidates")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Subscribe reads the current record, then re-reads it on every change ping.
func (r *RedisStore) Subscribe(ctx context.Context, id string) (<-chan Snapshot, func(), error) {
	sub := r.rdb.Subscribe(ctx, r.channel(id))
	// Force the SUBSCRIBE to complete before the initial read, so no change
	// between read and subscription start can be missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Snapshot, snapshotBuf)
	subCtx, cancelCtx := context.WithCancel(ctx)

	go func() {
		defer close(out)
		cur, err := r.read(subCtx, id)
		if err == nil || errors.Is(err, ErrNotFound) {
			select {
			case out <- Snapshot{Session: cur}:
			case <-subCtx.Done():
				return
			}
		}
		msgs := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				cur, err := r.read(subCtx, id)
				if err != nil && !errors.Is(err, ErrNotFound) {
					redisLog.Warnf("session %s: re-read after change: %v", id, err)
					continue
				}
				select {
				case out <- Snapshot{Session: cur}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	cancel := func() {
		cancelCtx()
		_ = sub.Close()
	}
	return out, cancel, nil
}

// read assembles a CallSession from the hash and candidate list.
func (r *RedisStore) read(ctx context.Context, id string) (*CallSession, error) {
	h, err := r.rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	cands, err := r.rdb.LRange(ctx, r.candKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &CallSession{
		ID:          h["id"],
		CallerID:    h["caller"],
		ReceiverID:  h["receiver"],
		Type:        CallType(h["call_type"]),
		Status:      Status(h["status"]),
		CallerSDP:   h["caller_sdp"],
		ReceiverSDP: h["receiver_sdp"],
		Candidates:  cands,
	}
	if ms, err := strconv.ParseInt(h["created_ms"], 10, 64); err == nil {
		s.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(h["start_ms"], 10, 64); err == nil && ms > 0 {
		s.StartTime = time.UnixMilli(ms)
	}
	return s, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
