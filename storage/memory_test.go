package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"explorviz/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runGraphStoreSuite(t, func(t *testing.T) GraphStore {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ConcurrentWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				span := testSpan(fmt.Sprintf("trace-%d", i), fmt.Sprintf("span-%d-%d", i, j), int64(i*1000+j), "a.B.c")
				assert.NoError(t, store.PersistSpan(ctx, span))
			}
		}(i)
	}
	wg.Wait()

	timestamps, err := store.Timestamps(ctx, suiteToken)
	require.NoError(t, err)
	require.Len(t, timestamps, 20)
	for i, ts := range timestamps {
		assert.Equal(t, int64(i*1000), ts.EpochNano)
		assert.Equal(t, 50, ts.SpanCount)
	}
}

func TestMemoryStore_PingHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemoryStore().Ping(ctx), context.Canceled)
}

func TestMemoryStore_RootCommitStoresNoParent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.RegisterRepository(ctx, suiteToken, "petclinic", "main"))
	require.NoError(t, store.PersistCommit(ctx, testCommit("c1", core.NoParentCommit, time.Now())))
	require.NoError(t, store.PersistCommitReport(ctx, testReport("c2", core.NoParentCommit)))

	repo := store.landscapes[suiteToken].repositories["petclinic"]
	assert.NotContains(t, repo.commits, core.NoParentCommit)
	assert.Empty(t, repo.commits["c1"].parent)
	assert.Empty(t, repo.commits["c2"].parent)
}
