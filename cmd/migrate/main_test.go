package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	err := migrate(context.Background(), "", "up", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestMigrate_UnreachableDatabase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := migrate(ctx, "postgres://nobody@127.0.0.1:1/none?sslmode=disable", "status", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
}
