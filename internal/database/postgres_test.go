package database_test

import (
	"context"
	"testing"
	"time"

	"finetune-pipeline/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func TestPostgresRunRegistry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx := context.Background()
	db, err := database.NewDatabase(setupPostgresContainer(t, ctx))
	require.NoError(t, err)
	assert.Equal(t, "postgres", db.Dialector.Name())

	run, err := database.CreateRun(ctx, db, "support", "gpt2", "models/finetuned_support")
	require.NoError(t, err)
	require.NoError(t, database.CompleteRun(ctx, db, run.Id, map[string]float64{"train_loss": 1}))

	loaded, err := database.GetRun(ctx, db, run.Id)
	require.NoError(t, err)
	assert.Equal(t, database.RunCompleted, loaded.Status)
	assert.JSONEq(t, `{"train_loss": 1}`, string(loaded.Metrics))
}

func TestNewDatabaseSqlite(t *testing.T) {
	db, err := database.NewDatabase("sqlite://file::memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", db.Dialector.Name())
}
