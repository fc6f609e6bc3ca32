package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24, cfg.JWT.ExpireHours)
	assert.Equal(t, 120, cfg.AWS.CallTimeoutSec)
	assert.Equal(t, "", cfg.Worker.ScratchDir)
}

func TestDSNFromComponents(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "podrec")
	t.Setenv("DB_SSLMODE", "require")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:pw@db.internal:5433/podrec?sslmode=require", cfg.Database.DSN())
}

func TestDSNPrefersDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://elsewhere:5432/other?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://elsewhere:5432/other?sslmode=disable", cfg.Database.DSN())
}
