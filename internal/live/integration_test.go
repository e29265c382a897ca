package live

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplifi/internal/common"
	"amplifi/internal/dbmysql"
	"amplifi/internal/dbmysql/dbtest"
)

func TestStreamRepository_OneLivePerCreator_Integration(t *testing.T) {
	repo := NewStreamRepository(dbtest.Open(t))
	ctx := context.Background()
	alice := "alice"
	now := time.Now().UTC().Truncate(time.Second)
	stream := func(id string) *dbmysql.LiveStream {
		return &dbmysql.LiveStream{
			ID: id, CreatorID: alice, LiveCreatorID: &alice, Title: id,
			Status: dbmysql.StreamStatusLive, StartedAt: now, LastHeartbeat: now,
		}
	}

	first := stream("s1")
	require.NoError(t, repo.CreateStream(ctx, first))
	err := repo.CreateStream(ctx, stream("s2"))
	require.ErrorIs(t, err, common.ErrConflict)

	live, err := repo.LiveByCreator(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "s1", live.ID)

	first.EndedAt = &now
	require.NoError(t, repo.FinishStream(ctx, first))
	_, err = repo.LiveByCreator(ctx, alice)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, repo.CreateStream(ctx, stream("s3")))
}
