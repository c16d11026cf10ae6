package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/earnvol/internal/config"
	"github.com/seenimoa/earnvol/internal/datasource"
	"github.com/seenimoa/earnvol/internal/volatility"
)

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()
	for _, k := range []string{"EARNVOL_DATABASE_URL", "DATABASE_URL", "EARNVOL_FINNHUB_API_KEY", "FINNHUB_API_KEY"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestEngineParamsMatchDefaults(t *testing.T) {
	cfg := loadDefaults(t)
	assert.Equal(t, volatility.DefaultParams(), engineParams(cfg.Engine))
}

func TestScanConfig(t *testing.T) {
	cfg := loadDefaults(t)
	sc := scanConfig(*cfg, true)
	assert.Equal(t, 7, sc.HorizonDays)
	assert.Equal(t, 10e9, sc.MinMarketCap)
	assert.Equal(t, 4, sc.Concurrency)
	assert.True(t, sc.DryRun)
}

func TestNewAppWithoutDatabase(t *testing.T) {
	cfg := loadDefaults(t)
	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.store)
	assert.Same(t, a.yahoo, a.market)
	assert.Equal(t, "Yahoo Finance", a.market.Name())
	assert.Equal(t, "Finnhub", a.finnhub.Name())
	assert.Equal(t, volatility.DefaultParams(), a.engine.Params())
	assert.NotNil(t, a.scanner(cfg, true))
}

func TestNewAppSelectsCBOE(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Engine.Source = "cboe"
	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.market.(*datasource.CBOE)
	assert.True(t, ok, "market data should be CBOE, got %T", a.market)
	assert.Equal(t, "CBOE", a.market.Name())
}

func TestNewAppRequiresDatabaseURL(t *testing.T) {
	cfg := loadDefaults(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := newApp(ctx, cfg, true)
	assert.Error(t, err)
}
