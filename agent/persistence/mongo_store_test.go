package persistence

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Mongo 测试需要真实实例：HITLFLOW_MONGO_URI=mongodb://localhost:27017
func TestMongoStateStore(t *testing.T) {
	uri := os.Getenv("HITLFLOW_MONGO_URI")
	if uri == "" {
		t.Skip("HITLFLOW_MONGO_URI not set")
	}

	runStateStoreSuite(t, func(t *testing.T) StateStore {
		s, err := NewMongoStateStore(StoreConfig{
			KeyPrefix: "hitlflow:",
			Mongo: MongoStoreConfig{
				URI:      uri,
				Database: fmt.Sprintf("hitlflow_test_%d", time.Now().UnixNano()),
			},
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.threads.Database().Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "hitlflow_threads", collectionName("hitlflow:", "threads"))
	assert.Equal(t, "preferences", collectionName("", "preferences"))
}
