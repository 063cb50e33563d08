package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kisan-backend/internal/auth"
	"kisan-backend/internal/domain"
	"kisan-backend/internal/store"
)

func TestSeedDemo(t *testing.T) {
	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	res, err := seedDemo(ctx, st, "demo-password", now)
	require.NoError(t, err)
	assert.Equal(t, seedResult{Created: len(demoUsers), Prices: 12}, res)

	farmer, err := st.GetUserByEmail(ctx, "farmer@kisan.demo")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleFarmer, farmer.Role)
	assert.True(t, auth.CheckPassword(farmer.PasswordHash, "demo-password"))

	loads, err := st.ExpertLoads(ctx, true)
	require.NoError(t, err)
	assert.Len(t, loads, 2)

	// second run keeps accounts and replaces same-day prices
	res, err = seedDemo(ctx, st, "other-password", now)
	require.NoError(t, err)
	assert.Equal(t, seedResult{Skipped: len(demoUsers), Prices: 12}, res)

	prices, err := st.PriceHistory(ctx, domain.PriceFilter{Commodity: "onion"})
	require.NoError(t, err)
	require.Len(t, prices, 4)
	assert.Equal(t, now.AddDate(0, 0, -3).Format(time.DateOnly), prices[0].Date.Format(time.DateOnly))
	assert.Equal(t, 1420.0, prices[3].ModalPrice)
	assert.NotZero(t, prices[3].ReportedBy)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "kisan dev\n", out.String())
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "seed", "version"} {
		assert.True(t, names[want], want)
	}
}
