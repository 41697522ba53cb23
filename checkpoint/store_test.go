package checkpoint

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft/types"
)

type testState struct {
	Step  string `json:"step"`
	Count int    `json:"count"`
}

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing workflow", func(t *testing.T) {
		_, found, err := store.Load(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("save and load round trip", func(t *testing.T) {
		env, err := NewEnvelope("wf-round", 1, testState{Step: "intent_analysis", Count: 1})
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, env))

		loaded, found, err := store.Load(ctx, "wf-round")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(1), loaded.Revision)
		assert.Equal(t, SchemaVersion, loaded.SchemaVersion)

		var st testState
		require.NoError(t, loaded.Decode(&st))
		assert.Equal(t, "intent_analysis", st.Step)
	})

	t.Run("sequential revisions", func(t *testing.T) {
		for rev := int64(1); rev <= 4; rev++ {
			env, err := NewEnvelope("wf-seq", rev, testState{Count: int(rev)})
			require.NoError(t, err)
			require.NoError(t, store.Save(ctx, env))
		}

		loaded, found, err := store.Load(ctx, "wf-seq")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(4), loaded.Revision)
	})

	t.Run("first save must be revision one", func(t *testing.T) {
		env, err := NewEnvelope("wf-new", 2, testState{})
		require.NoError(t, err)
		err = store.Save(ctx, env)
		require.Error(t, err)
		assert.Equal(t, types.ErrCheckpointStale, types.GetErrorCode(err))
	})

	t.Run("stale revision rejected", func(t *testing.T) {
		env, err := NewEnvelope("wf-stale", 1, testState{})
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, env))

		// Re-writing revision 1 conflicts with the stored revision.
		dup, err := NewEnvelope("wf-stale", 1, testState{})
		require.NoError(t, err)
		err = store.Save(ctx, dup)
		require.Error(t, err)
		assert.Equal(t, types.ErrCheckpointStale, types.GetErrorCode(err))

		// Skipping a revision is also rejected.
		skip, err := NewEnvelope("wf-stale", 3, testState{})
		require.NoError(t, err)
		err = store.Save(ctx, skip)
		require.Error(t, err)
		assert.Equal(t, types.ErrCheckpointStale, types.GetErrorCode(err))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	runStoreSuite(t, NewRedisStore(client, "test:"))
}

func TestGormStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewGormStore(db)
	require.NoError(t, err)

	runStoreSuite(t, store)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("COURSECRAFT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("COURSECRAFT_TEST_MONGO_URI not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	store, err := NewMongoStore(client, "coursecraft_test", "checkpoints")
	require.NoError(t, err)
	require.NoError(t, client.Database("coursecraft_test").Collection("checkpoints").Drop(context.Background()))

	runStoreSuite(t, store)
}

func TestEnvelope_SchemaVersionRejected(t *testing.T) {
	env, err := NewEnvelope("wf", 1, testState{})
	require.NoError(t, err)
	env.SchemaVersion = 99

	var st testState
	err = env.Decode(&st)
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointSchema, types.GetErrorCode(err))
}
