package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/tourdesk/pkg/domain"
)

func newRedisRepo(t *testing.T) (*RedisSessionsRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionsRepository(client), mr
}

func TestRedisSessions(t *testing.T) {
	testSessionRepository(t, func(t *testing.T) sessionRepository {
		repo, _ := newRedisRepo(t)
		return repo
	})
}

func TestRedisSessions_KeyLayout(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()
	s := newTestSession(uuid.New(), time.Now().UTC().Truncate(time.Second))
	require.NoError(t, repo.Create(ctx, s))

	key := sessionKeyPrefix + s.ID.String()
	assert.True(t, mr.Exists(key))
	assert.Equal(t, s.UserID.String(), mr.HGet(key, fieldUserID))
	assert.Equal(t, s.AccessTokenHash, mr.HGet(key, fieldAccessHash))
	assert.Positive(t, mr.TTL(key))

	members, err := mr.Members(userSessionsPrefix + s.UserID.String())
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID.String()}, members)

	require.NoError(t, repo.Delete(ctx, s.ID))
	assert.False(t, mr.Exists(key))
	assert.False(t, mr.Exists(userSessionsPrefix+s.UserID.String()))
}

func TestRedisSessions_NativeExpiryCleansIndexes(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	s := newTestSession(uuid.New(), now)
	s.ExpiresAt = now.Add(time.Minute)
	require.NoError(t, repo.Create(ctx, s))

	mr.FastForward(2 * time.Minute)
	_, err := repo.GetByID(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	list, err := repo.ListByUserID(ctx, s.UserID)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := repo.DeleteExpired(ctx, now.Add(2*time.Minute), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	score, err := mr.ZScore(sessionExpiryKey, s.ID.String())
	assert.Error(t, err)
	assert.Zero(t, score)
}

func TestRedisSessions_UpdateActivityKeepsTTL(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	s := newTestSession(uuid.New(), now)
	require.NoError(t, repo.Create(ctx, s))
	key := sessionKeyPrefix + s.ID.String()
	ttl := mr.TTL(key)

	require.NoError(t, repo.UpdateActivity(ctx, s.ID, now.Add(time.Minute), &domain.DeviceMetadata{City: "Sopot"}))
	assert.Equal(t, ttl, mr.TTL(key))
	assert.Equal(t, "Sopot", mr.HGet(key, fieldCity))
	assert.Equal(t, s.Device.Country, mr.HGet(key, fieldCountry))
}
