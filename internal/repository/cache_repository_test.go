package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/studio-ops-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "studio-ops", nil)

	var dest map[string]string
	err := repo.Get(context.Background(), "calendar:s1", &dest)
	assert.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "calendar:s1", map[string]string{"a": "b"}, time.Minute))

	removed, err := repo.DeleteByPattern(context.Background(), "calendar:*")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCacheRepositoryNamespacesKeys(t *testing.T) {
	assert.Equal(t, "studio-ops:calendar:s1", NewCacheRepository(nil, "studio-ops", nil).key("calendar:s1"))
	assert.Equal(t, "calendar:s1", NewCacheRepository(nil, "", nil).key("calendar:s1"))
}

func TestCacheRepositorySurfacesConnectionErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	repo := NewCacheRepository(client, "studio-ops", nil)

	var dest map[string]string
	err := repo.Get(context.Background(), "calendar:s1", &dest)
	require.Error(t, err)
	assert.NotErrorIs(t, err, appErrors.ErrCacheMiss)
}
