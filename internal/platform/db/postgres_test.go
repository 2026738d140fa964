package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMalformedDSN(t *testing.T) {
	_, err := New(context.Background(), "postgres://%zz", PoolConfig{})
	assert.ErrorContains(t, err, "platform/db: parse config")
}

func TestApplyPoolConfig(t *testing.T) {
	config, err := pgxpool.ParseConfig("postgres://ledger@localhost:5432/ledger")
	require.NoError(t, err)

	applyPoolConfig(config, PoolConfig{
		ApplicationName: "odyssey-ledger",
		ConnectTimeout:  3 * time.Second,
		MaxConns:        7,
	})

	assert.Equal(t, "odyssey-ledger", config.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, 3*time.Second, config.ConnConfig.ConnectTimeout)
	assert.Equal(t, int32(7), config.MaxConns)
}

func TestApplyPoolConfigKeepsDSNApplicationName(t *testing.T) {
	config, err := pgxpool.ParseConfig("postgres://ledger@localhost/ledger?application_name=reporting")
	require.NoError(t, err)

	applyPoolConfig(config, PoolConfig{ApplicationName: "odyssey-ledger"})

	assert.Equal(t, "reporting", config.ConnConfig.RuntimeParams["application_name"])
}
