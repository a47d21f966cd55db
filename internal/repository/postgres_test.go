package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestPostgresStore runs the store suite against a real database.
// Set DUEL_TEST_DATABASE_URL to enable it.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DUEL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DUEL_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := NewDB(ctx, config.DatabaseConfig{URL: url, ConnectTimeout: 5 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	storeSuite(t, NewPostgresStore(db))
}
