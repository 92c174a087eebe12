package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount stores a minimal account with the given ID and a root folder,
// returning the root folder ID.
func SeedAccount(t *testing.T, s store.Store, id string) int64 {
	t.Helper()
	ctx := context.Background()

	if err := s.UpsertAccount(ctx, model.Account{ID: id, Name: id, Address: id + "@example.com"}); err != nil {
		t.Fatalf("seeding account %s: %v", id, err)
	}
	rootID, err := s.CreateFolder(ctx, model.Folder{AccountID: id, State: model.Disconnected{}})
	if err != nil {
		t.Fatalf("seeding root folder for %s: %v", id, err)
	}
	return rootID
}
