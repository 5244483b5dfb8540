package service

import (
	"testing"
	"time"

	"github.com/richardliu001/ledger-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.LedgerConfig{Profile: "reward"}, "")
	require.NoError(t, err)
	assert.Equal(t, RewardProfile(), opts)

	opts, err = OptionsFromConfig(config.LedgerConfig{
		Profile:     "wallet",
		Currency:    "EUR",
		SystemFloat: "500",
		HoldTTL:     time.Hour,
		Adjustments: "direct",
	}, "eu.transactions")
	require.NoError(t, err)
	assert.Equal(t, "EUR", opts.Currency)
	assert.True(t, opts.SystemFloat.Equal(amt("500")))
	assert.Equal(t, time.Hour, opts.HoldTTL)
	assert.Equal(t, AdjustDirect, opts.Adjustments)
	assert.Equal(t, "eu.transactions", opts.EventsTopic)

	_, err = OptionsFromConfig(config.LedgerConfig{Profile: "casino"}, "")
	assert.Error(t, err)
	_, err = OptionsFromConfig(config.LedgerConfig{SystemFloat: "-1"}, "")
	assert.Error(t, err)
	_, err = OptionsFromConfig(config.LedgerConfig{PlatformAccountID: "SYSTEM_ACCOUNT"}, "")
	assert.Error(t, err)
}
