package models

import (
	"context"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/classgrade/gradepipe/internal/migrations"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16.4-alpine",
		postgres.WithDatabase("gradepipe"),
		postgres.WithUsername("gradepipe"),
		postgres.WithPassword("gradepipe"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(postgresContainer), "failed to terminate container")
	})
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := postgresContainer.ConnectionString(ctx)
	require.NoError(t, err, "failed to get connection string to container")

	db, err := gorm.Open(gormpostgres.Open(dsn))
	require.NoError(t, err, "failed to connect to the database")

	require.NoError(t, migrations.Up(ctx, db), "failed to migrate db")

	return db
}

func TestUtilities(t *testing.T) {
	db := testDB(t)

	sub := &SubmissionRecord{
		Fingerprint:  "aaaa000011112222",
		StudentID:    "s-1001",
		StudentName:  "Ada Lovelace",
		StudentEmail: "ada@example.edu",
		AssignmentID: "tp0",
		ReceivedAt:   time.Now(),
	}
	result := db.Create(sub)
	require.NoError(t, result.Error, "failed to write element to db")

	t.Run("ExistsByID", func(t *testing.T) {
		exists, err := Exists[SubmissionRecord](context.Background(), db, "id = ?", sub.ID)
		require.NoError(t, err, "failed to check db for existence")

		assert.True(t, exists, "did not find the object")
	})

	t.Run("ExistsByFingerprint", func(t *testing.T) {
		exists, err := Exists[SubmissionRecord](context.Background(), db, "fingerprint = ?", sub.Fingerprint)
		require.NoError(t, err, "failed to check db for existence")

		assert.True(t, exists, "did not find the object")
	})

	t.Run("DoesNotExistByID", func(t *testing.T) {
		exists, err := Exists[SubmissionRecord](context.Background(), db, "id = ?", uuid.New())
		require.NoError(t, err, "failed to check db for existence")

		assert.False(t, exists, "should not find object")
	})

	t.Run("ByID", func(t *testing.T) {
		got, err := ByID[SubmissionRecord](context.Background(), db, sub.ID)
		require.NoError(t, err, "failed to get object by id")

		assert.Equal(t, sub.Fingerprint, got.Fingerprint, "fetched row should match")
		assert.Equal(t, "received", string(got.State), "state should default to received")
	})
}

func TestMintOperatorKey(t *testing.T) {
	db := testDB(t)

	id, secret, err := MintOperatorKey(
		context.Background(),
		db,
		"ci smoke key",
		OperatorPermissions{Read: true},
	)
	require.NoError(t, err, "failed to mint key")
	require.NotEmpty(t, secret, "secret should be returned")

	key, err := ByID[OperatorKey](context.Background(), db, id)
	require.NoError(t, err, "failed to fetch minted key")

	assert.NotEqual(t, secret, key.Token, "plaintext must not be stored")
	assert.True(t, key.Active.Valid && key.Active.V, "minted key should be active")
	assert.True(t, key.Permissions.Read, "permissions should round trip")
	assert.False(t, key.Permissions.Operate, "unset permissions should stay unset")

	match, err := argon2id.ComparePasswordAndHash(secret, key.Token)
	require.NoError(t, err, "failed to compare secret and hash")
	assert.True(t, match, "stored hash should verify the secret")
}
