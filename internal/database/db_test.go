package database

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	dsn := DSN("afya", "s3cret", "db.local", "3307", "afyatrack")

	assert.True(t, strings.HasPrefix(dsn, "afya:s3cret@tcp(db.local:3307)/afyatrack?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	cfg, err := mysql.ParseDSN(dsn)
	assert.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Loc.String())
}

func TestIsDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.True(t, IsDuplicateKey(dup))
	assert.True(t, IsDuplicateKey(fmt.Errorf("insert user: %w", dup)))
	assert.False(t, IsDuplicateKey(&mysql.MySQLError{Number: 1452}))
	assert.False(t, IsDuplicateKey(fmt.Errorf("plain")))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir(migrationsDir)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		body, err := migrationsFS.ReadFile(migrationsDir + "/" + e.Name())
		assert.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", e.Name())
		assert.Contains(t, string(body), "-- +goose Down", e.Name())
	}
}
