// Command migrate-stacks copies applied stacks from the JSON datastore into
// Postgres.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"strings"

	"livefleet/internal/storage"
)

func main() {
	jsonPath := flag.String("json", "data/stacks.json", "path to the JSON datastore to migrate")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dsn := strings.TrimSpace(*postgresDSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("LIVEFLEET_POSTGRES_DSN"))
	}
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if dsn == "" {
		logger.Error("postgres DSN required", "hint", "set --postgres-dsn, LIVEFLEET_POSTGRES_DSN, or DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	src, err := storage.NewJSONRepository(*jsonPath)
	if err != nil {
		logger.Error("failed to open JSON datastore", "error", err)
		os.Exit(1)
	}
	dst, err := storage.NewPostgresRepository(ctx, dsn)
	if err != nil {
		logger.Error("failed to open postgres repository", "error", err)
		os.Exit(1)
	}
	defer dst.Close(context.Background())

	copied, err := storage.CopyStacks(ctx, src, dst)
	if err != nil {
		logger.Error("migration failed", "error", err)
		dst.Close(context.Background())
		os.Exit(1)
	}
	logger.Info("migration completed", "path", *jsonPath, "stacks", copied)
}
