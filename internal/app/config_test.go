package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ledger.RecognitionAccrual, cfg.RecognitionBasis())
	assert.Equal(t, int32(2), cfg.MinorUnits)
	assert.Equal(t, 5, cfg.CodeMaxAttempts)
	assert.Equal(t, 3, cfg.PostMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.CanonicalTTL)
	assert.Equal(t, 60, cfg.AppRateLimit)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigLedgerOverrides(t *testing.T) {
	t.Setenv("LEDGER_RECOGNITION", "cash")
	t.Setenv("LEDGER_MINOR_UNITS", "3")
	t.Setenv("LEDGER_CANONICAL_TTL", "2m")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ledger.RecognitionCash, cfg.RecognitionBasis())
	assert.Equal(t, int32(3), cfg.MinorUnits)
	assert.Equal(t, 2*time.Minute, cfg.CanonicalTTL)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownRecognition(t *testing.T) {
	t.Setenv("LEDGER_RECOGNITION", "hybrid")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "LEDGER_RECOGNITION")
}

func TestConfigValidateBounds(t *testing.T) {
	base := Config{Recognition: "accrual", MinorUnits: 2, CodeMaxAttempts: 5, PostMaxAttempts: 3}
	require.NoError(t, base.Validate())

	edge := base
	edge.MinorUnits = ledger.MaxMinorUnits
	require.NoError(t, edge.Validate())

	bad := base
	bad.MinorUnits = ledger.MaxMinorUnits + 1
	assert.ErrorContains(t, bad.Validate(), "LEDGER_MINOR_UNITS")

	bad = base
	bad.MinorUnits = 8
	assert.Error(t, bad.Validate(), "scale beyond the stored NUMERIC(20,4) columns")

	bad = base
	bad.MinorUnits = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.PostMaxAttempts = 0
	assert.Error(t, bad.Validate())
}
