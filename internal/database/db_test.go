package database

import (
	"testing"
	"time"

	"github.com/BradenHooton/petguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfigFrom(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:             "db.internal",
		Port:             5432,
		User:             "petguard",
		Name:             "petguard",
		SSLMode:          "disable",
		MaxConns:         12,
		MinConns:         2,
		MaxConnLifetime:  5 * time.Minute,
		StatementTimeout: 1500 * time.Millisecond,
	}

	pc, err := poolConfigFrom(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(12), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, "petguard", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "1500", pc.ConnConfig.RuntimeParams["statement_timeout"])
}

func TestPoolConfigFrom_NoStatementTimeout(t *testing.T) {
	pc, err := poolConfigFrom(&config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "petguard", SSLMode: "disable"})
	require.NoError(t, err)

	_, set := pc.ConnConfig.RuntimeParams["statement_timeout"]
	assert.False(t, set)
}
