package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/tourdesk/pkg/domain"
)

// Redis key layout:
//
//	session:<id>             hash with the session fields, EXPIREAT expires_at
//	user_sessions:<user_id>  set of session ids
//	sessions:owner           hash session id -> user id
//	sessions:expiry          zset session id scored by expires_at (unix seconds)
//	sessions:activity        zset session id scored by last_activity (unix seconds)
const (
	sessionKeyPrefix     = "session:"
	userSessionsPrefix   = "user_sessions:"
	sessionOwnerKey      = "sessions:owner"
	sessionExpiryKey     = "sessions:expiry"
	sessionActivityKey   = "sessions:activity"
	fieldUserID          = "user_id"
	fieldAccessHash      = "access_token_hash"
	fieldRefreshHash     = "refresh_token_hash"
	fieldPrevRefreshHash = "previous_refresh_token_hash"
	fieldCSRFHash        = "csrf_token_hash"
	fieldLastActivity    = "last_activity"
	fieldCreatedAt       = "created_at"
	fieldExpiresAt       = "expires_at"
	fieldDevice          = "device"
	fieldBrowser         = "browser"
	fieldOS              = "os"
	fieldIPAddress       = "ip_address"
	fieldCountry         = "country"
	fieldCity            = "city"
	fieldUserAgent       = "user_agent"
	redisTimestampFormat = time.RFC3339Nano
)

// KEYS[1] session key, KEYS[2] activity zset
// ARGV[1] session id, ARGV[2] last_activity, ARGV[3] score, ARGV[4..] field/value pairs
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'last_activity', ARGV[2])
for i = 4, #ARGV, 2 do
	if ARGV[i + 1] ~= '' then
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
	end
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// KEYS[1] session key
// ARGV[1] expected refresh hash, ARGV[2] new access hash, ARGV[3] new refresh hash
var rotateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'refresh_token_hash')
if not current or current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'access_token_hash', ARGV[2], 'refresh_token_hash', ARGV[3],
	'previous_refresh_token_hash', current)
return 1
`)

// KEYS[1] session key, KEYS[2] owner hash, KEYS[3] expiry zset, KEYS[4] activity zset
// ARGV[1] session id, ARGV[2] user sessions key prefix
var deleteScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
if owner then
	redis.call('SREM', ARGV[2] .. owner, ARGV[1])
end
return 1
`)

// RedisSessionsRepository stores sessions in Redis. Session keys expire
// natively at the absolute expiry; the sweeper cleans the indexes.
type RedisSessionsRepository struct {
	client *redis.Client
}

// NewRedisSessionsRepository creates a new Redis-backed sessions repository.
func NewRedisSessionsRepository(client *redis.Client) *RedisSessionsRepository {
	return &RedisSessionsRepository{client: client}
}

// Create stores a new session.
func (r *RedisSessionsRepository) Create(ctx context.Context, session *domain.Session) error {
	id := session.ID.String()
	key := sessionKeyPrefix + id
	fields := map[string]any{
		fieldUserID:       session.UserID.String(),
		fieldAccessHash:   session.AccessTokenHash,
		fieldRefreshHash:  session.RefreshTokenHash,
		fieldCSRFHash:     session.CSRFTokenHash,
		fieldLastActivity: session.LastActivity.UTC().Format(redisTimestampFormat),
		fieldCreatedAt:    session.CreatedAt.UTC().Format(redisTimestampFormat),
		fieldExpiresAt:    session.ExpiresAt.UTC().Format(redisTimestampFormat),
	}
	for field, value := range deviceFields(session.Device) {
		fields[field] = value
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.ExpireAt(ctx, key, session.ExpiresAt)
		pipe.SAdd(ctx, userSessionsPrefix+session.UserID.String(), id)
		pipe.HSet(ctx, sessionOwnerKey, id, session.UserID.String())
		pipe.ZAdd(ctx, sessionExpiryKey, redis.Z{Score: float64(session.ExpiresAt.Unix()), Member: id})
		pipe.ZAdd(ctx, sessionActivityKey, redis.Z{Score: float64(session.LastActivity.Unix()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID.
func (r *RedisSessionsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	values, err := r.client.HGetAll(ctx, sessionKeyPrefix+id.String()).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return decodeSession(id, values)
}

// ListByUserID returns the sessions of a user, most recent first. Ids whose
// key has already expired are dropped from the user index.
func (r *RedisSessionsRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	indexKey := userSessionsPrefix + userID.String()
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	sessions := make([]*domain.Session, 0, len(ids))
	var stale []any
	for i, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		id, err := uuid.Parse(ids[i])
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		session, err := decodeSession(id, values)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		r.client.SRem(ctx, indexKey, stale...)
	}

	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
	return sessions, nil
}

// UpdateActivity sets last_activity and overwrites the non-empty device
// fields. A deleted session is not recreated.
func (r *RedisSessionsRepository) UpdateActivity(ctx context.Context, id uuid.UUID, at time.Time, device *domain.DeviceMetadata) error {
	args := []any{id.String(), at.UTC().Format(redisTimestampFormat), at.Unix()}
	if device != nil {
		for field, value := range deviceFields(*device) {
			args = append(args, field, value)
		}
	}
	keys := []string{sessionKeyPrefix + id.String(), sessionActivityKey}
	updated, err := touchScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// UpdateTokens swaps the token hashes when the refresh hash still matches.
func (r *RedisSessionsRepository) UpdateTokens(ctx context.Context, id uuid.UUID, oldRefreshHash, accessHash, refreshHash string) error {
	keys := []string{sessionKeyPrefix + id.String()}
	updated, err := rotateScript.Run(ctx, r.client, keys, oldRefreshHash, accessHash, refreshHash).Int()
	if err != nil {
		return err
	}
	if updated == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session and its index entries.
func (r *RedisSessionsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	keys := []string{sessionKeyPrefix + id.String(), sessionOwnerKey, sessionExpiryKey, sessionActivityKey}
	return deleteScript.Run(ctx, r.client, keys, id.String(), userSessionsPrefix).Err()
}

// DeleteByUserID removes all sessions of a user.
func (r *RedisSessionsRepository) DeleteByUserID(ctx context.Context, userID uuid.UUID) error {
	ids, err := r.client.SMembers(ctx, userSessionsPrefix+userID.String()).Result()
	if err != nil {
		return err
	}
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	return r.client.Del(ctx, userSessionsPrefix+userID.String()).Err()
}

// DeleteExpired removes sessions past their expiry or idle since before
// idleCutoff, including index entries left behind by native key expiry.
func (r *RedisSessionsRepository) DeleteExpired(ctx context.Context, now, idleCutoff time.Time) (int64, error) {
	expired, err := r.client.ZRangeByScore(ctx, sessionExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	ids := make(map[string]struct{}, len(expired))
	for _, id := range expired {
		ids[id] = struct{}{}
	}
	if !idleCutoff.IsZero() {
		idle, err := r.client.ZRangeByScore(ctx, sessionActivityKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(idleCutoff.Unix(), 10),
		}).Result()
		if err != nil {
			return 0, err
		}
		for _, id := range idle {
			ids[id] = struct{}{}
		}
	}

	var n int64
	for raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		if err := r.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func deviceFields(d domain.DeviceMetadata) map[string]string {
	return map[string]string{
		fieldDevice:    d.Device,
		fieldBrowser:   d.Browser,
		fieldOS:        d.OS,
		fieldIPAddress: d.IPAddress,
		fieldCountry:   d.Country,
		fieldCity:      d.City,
		fieldUserAgent: d.UserAgent,
	}
}

func decodeSession(id uuid.UUID, values map[string]string) (*domain.Session, error) {
	userID, err := uuid.Parse(values[fieldUserID])
	if err != nil {
		return nil, fmt.Errorf("decode session %s: user id: %w", id, err)
	}
	session := &domain.Session{
		ID:                       id,
		UserID:                   userID,
		AccessTokenHash:          values[fieldAccessHash],
		RefreshTokenHash:         values[fieldRefreshHash],
		PreviousRefreshTokenHash: values[fieldPrevRefreshHash],
		CSRFTokenHash:            values[fieldCSRFHash],
		Device: domain.DeviceMetadata{
			Device:    values[fieldDevice],
			Browser:   values[fieldBrowser],
			OS:        values[fieldOS],
			IPAddress: values[fieldIPAddress],
			Country:   values[fieldCountry],
			City:      values[fieldCity],
			UserAgent: values[fieldUserAgent],
		},
	}
	for field, dst := range map[string]*time.Time{
		fieldLastActivity: &session.LastActivity,
		fieldCreatedAt:    &session.CreatedAt,
		fieldExpiresAt:    &session.ExpiresAt,
	} {
		t, err := time.Parse(redisTimestampFormat, values[field])
		if err != nil {
			return nil, fmt.Errorf("decode session %s: %s: %w", id, field, err)
		}
		*dst = t
	}
	return session, nil
}
