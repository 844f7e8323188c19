//go:build postgres

package storage_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"livefleet/internal/fleet"
	"livefleet/internal/storage"
)

// openPostgres connects to the database named by LIVEFLEET_TEST_POSTGRES_DSN.
// The database must be dedicated to automated runs; the stacks table is
// truncated before each test.
func openPostgres(t *testing.T) storage.Repository {
	t.Helper()
	dsn := os.Getenv("LIVEFLEET_TEST_POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("LIVEFLEET_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := storage.NewPostgresRepository(ctx, dsn,
		storage.WithPostgresPool(4, 0, time.Minute, 30*time.Second),
		storage.WithPostgresAcquireTimeout(5*time.Second),
		storage.WithPostgresApplicationName("livefleet-test"),
	)
	if err != nil {
		t.Fatalf("open postgres repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(context.Background()) })

	names, err := repo.ListStacks(ctx)
	if err != nil {
		t.Fatalf("list stacks: %v", err)
	}
	for _, name := range names {
		if err := repo.DeleteStack(ctx, name); err != nil {
			t.Fatalf("reset stack %s: %v", name, err)
		}
	}
	return repo
}

// TestPostgresStackRoundTrip verifies save, load, upsert, list and delete
// against a live database.
func TestPostgresStackRoundTrip(t *testing.T) {
	repo := openPostgres(t)
	ctx := context.Background()

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	stack := storage.Stack{
		Name:    "CH01",
		Channel: "CH01",
		Resources: []storage.Resource{
			{Name: "CH01-ingest-main", Kind: fleet.KindIngestFlow, ID: "flow-1", Outputs: map[string]string{"sourceIngestIp": "10.0.0.1"}},
		},
	}
	if err := repo.SaveStack(ctx, stack); err != nil {
		t.Fatalf("SaveStack: %v", err)
	}
	stack.Upsert(storage.Resource{Name: "CH01-transcode-input", Kind: fleet.KindTranscodeInput, ID: "input-1"})
	if err := repo.SaveStack(ctx, stack); err != nil {
		t.Fatalf("SaveStack update: %v", err)
	}

	loaded, err := repo.LoadStack(ctx, "CH01")
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	if len(loaded.Resources) != 2 || loaded.Resources[0].Outputs["sourceIngestIp"] != "10.0.0.1" {
		t.Fatalf("unexpected stack %+v", loaded)
	}

	names, err := repo.ListStacks(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("ListStacks = %v, %v", names, err)
	}
	if err := repo.DeleteStack(ctx, "CH01"); err != nil {
		t.Fatalf("DeleteStack: %v", err)
	}
	if _, err := repo.LoadStack(ctx, "CH01"); !errors.Is(err, storage.ErrStackNotFound) {
		t.Fatalf("expected ErrStackNotFound, got %v", err)
	}
}
