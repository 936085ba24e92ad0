package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/campusauth/core"
	"github.com/layer-3/campusauth/ports"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix    = "campusauth"
	watchRetries     = 8
	minimumKeyExpiry = time.Second
)

// keyTTL keeps a record around for retention past its expiry, so a late read
// still reports it as expired instead of missing
func keyTTL(expiresAt time.Time, retention time.Duration) time.Duration {
	ttl := time.Until(expiresAt) + retention
	if ttl < minimumKeyExpiry {
		return minimumKeyExpiry
	}
	return ttl
}

// RedisOtpLedger is a Redis implementation of the OtpLedger interface
type RedisOtpLedger struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ ports.OtpLedger = (*RedisOtpLedger)(nil)

// NewRedisOtpLedger creates a ledger storing one JSON value per identity
func NewRedisOtpLedger(client redis.UniversalClient, prefix string, retention time.Duration) *RedisOtpLedger {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisOtpLedger{
		client:    client,
		prefix:    prefix + ":otp:",
		retention: retention,
	}
}

func (l *RedisOtpLedger) key(identityID string) string {
	return l.prefix + identityID
}

// Put stores rec, replacing any pending code for the identity
func (l *RedisOtpLedger) Put(ctx context.Context, rec core.OtpRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode otp: %w", err)
	}

	if err := l.client.Set(ctx, l.key(rec.IdentityID), payload, keyTTL(rec.ExpiresAt, l.retention)).Err(); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return nil
}

// Consume settles one verification attempt. The read and the write share a
// WATCH on the key, so a concurrent Put or Consume makes this attempt retry.
func (l *RedisOtpLedger) Consume(ctx context.Context, identityID, code string, now time.Time, maxAttempts int) error {
	key := l.key(identityID)

	for i := 0; i < watchRetries; i++ {
		var outcome error
		err := l.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				outcome = core.ErrOtpNotFound
				return nil
			}
			if err != nil {
				return err
			}

			var rec core.OtpRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to decode otp: %w", err)
			}

			next, result := settle(rec, code, now, maxAttempts)
			outcome = result

			if next == nil {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("failed to encode otp: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, keyTTL(next.ExpiresAt, l.retention))
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to consume otp: %w", err)
		}
		return outcome
	}

	return fmt.Errorf("failed to consume otp: %w", redis.TxFailedErr)
}

// Delete removes the pending record; missing records are ignored
func (l *RedisOtpLedger) Delete(ctx context.Context, identityID string) error {
	if err := l.client.Del(ctx, l.key(identityID)).Err(); err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}

// RedisSessionRegistry is a Redis implementation of the SessionRegistry interface
type RedisSessionRegistry struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ ports.SessionRegistry = (*RedisSessionRegistry)(nil)

// NewRedisSessionRegistry creates a registry storing one JSON value per session
func NewRedisSessionRegistry(client redis.UniversalClient, prefix string, retention time.Duration) *RedisSessionRegistry {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisSessionRegistry{
		client:    client,
		prefix:    prefix + ":session:",
		retention: retention,
	}
}

func (r *RedisSessionRegistry) key(sessionID string) string {
	return r.prefix + sessionID
}

// Put stores s under its ID
func (r *RedisSessionRegistry) Put(ctx context.Context, s core.Session) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(s.ID), payload, keyTTL(s.ExpiresAt, r.retention)).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Get returns the session, deleting it when expired
func (r *RedisSessionRegistry) Get(ctx context.Context, sessionID string, now time.Time) (core.Session, error) {
	key := r.key(sessionID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Session{}, core.ErrInvalidSession
		}
		return core.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	var s core.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return core.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}

	if s.Expired(now) {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return core.Session{}, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return core.Session{}, core.ErrSessionExpired
	}

	return s, nil
}

// Delete removes the session and reports whether it existed
func (r *RedisSessionRegistry) Delete(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}
