//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/xraph/conveyor/store"
	mongostore "github.com/xraph/conveyor/store/mongo"
	"github.com/xraph/conveyor/store/storetest"
)

func TestConformance(t *testing.T) {
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start mongodb container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := mongostore.Open(uri, "conveyor_test", mongostore.WithLockTimeout(storetest.LockTimeout))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := s.DB().Collection("conveyor_jobs").DeleteMany(ctx, bson.M{}); err != nil {
			t.Fatalf("clear jobs: %v", err)
		}
		return s
	})
}
