package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Market.ExpireDays)
	assert.Equal(t, 0.03, cfg.Market.ServiceFee)
	assert.Equal(t, int64(10), cfg.Market.MaxBuyPerDay)
	assert.Equal(t, time.Minute, cfg.ReaperInterval)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kabu.toml")
	content := `
ListenAddress = ":9999"
ReaperInterval = "30s"

[Market]
ExpireDays = 3
ServiceFee = 0.05
MaxBuyPerDay = 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("KABU_EXPIRE_DAYS", "5")
	t.Setenv("KABU_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddress)
	assert.Equal(t, 30*time.Second, cfg.ReaperInterval)
	assert.Equal(t, 5, cfg.Market.ExpireDays, "env wins over file")
	assert.Equal(t, 0.05, cfg.Market.ServiceFee)
	assert.Equal(t, int64(0), cfg.Market.MaxBuyPerDay)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("KABU_SERVICE_FEE", "1.5")

	_, err := Load("")
	assert.Error(t, err)
}

func TestServiceFeeDecimal(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.ServiceFeeDecimal().Equal(decimal.NewFromFloat(0.03)))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddress)
}
