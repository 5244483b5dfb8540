package service

import (
	"fmt"
	"time"

	"github.com/richardliu001/ledger-service/internal/config"
	"github.com/shopspring/decimal"
)

// AdjustmentPolicy decides how a negative ADJUSTMENT reaches an account.
type AdjustmentPolicy string

const (
	// AdjustRouted treats a negative adjustment like a DEBIT: the account
	// must be active and have the funds available.
	AdjustRouted AdjustmentPolicy = "routed"
	// AdjustDirect skips the active-account guard. Available funds are
	// still required.
	AdjustDirect AdjustmentPolicy = "direct"
)

// Options configure one engine instance. A deployment runs one profile.
type Options struct {
	Profile           string
	Currency          string
	Scale             int32
	SystemAccountID   string
	PlatformAccountID string
	SystemFloat       decimal.Decimal
	HoldTTL           time.Duration
	Adjustments       AdjustmentPolicy
	EventsTopic       string
}

// WalletProfile is the stored-value wallet: money in USD at four decimals.
func WalletProfile() Options {
	return Options{
		Profile:           "wallet",
		Currency:          "USD",
		Scale:             4,
		SystemAccountID:   "SYSTEM_ACCOUNT",
		PlatformAccountID: "PLATFORM_RESERVE",
		SystemFloat:       decimal.NewFromInt(1_000_000_000),
		HoldTTL:           24 * time.Hour,
		Adjustments:       AdjustRouted,
		EventsTopic:       "ledger.transactions",
	}
}

// RewardProfile is the loyalty-points ledger: whole points, direct adjustments.
func RewardProfile() Options {
	return Options{
		Profile:           "reward",
		Currency:          "PTS",
		Scale:             0,
		SystemAccountID:   "SYSTEM_ACCOUNT",
		PlatformAccountID: "PLATFORM_RESERVE",
		SystemFloat:       decimal.NewFromInt(1_000_000_000),
		HoldTTL:           72 * time.Hour,
		Adjustments:       AdjustDirect,
		EventsTopic:       "rewards.transactions",
	}
}

// ProfileOptions returns the named profile.
func ProfileOptions(name string) (Options, error) {
	switch name {
	case "", "wallet":
		return WalletProfile(), nil
	case "reward":
		return RewardProfile(), nil
	}
	return Options{}, fmt.Errorf("unknown ledger profile %q", name)
}

// OptionsFromConfig starts from the configured profile and applies the
// non-zero overrides.
func OptionsFromConfig(lc config.LedgerConfig, eventsTopic string) (Options, error) {
	opts, err := ProfileOptions(lc.Profile)
	if err != nil {
		return opts, err
	}
	if lc.Currency != "" {
		opts.Currency = lc.Currency
	}
	if lc.SystemAccountID != "" {
		opts.SystemAccountID = lc.SystemAccountID
	}
	if lc.PlatformAccountID != "" {
		opts.PlatformAccountID = lc.PlatformAccountID
	}
	if lc.SystemFloat != "" {
		f, err := decimal.NewFromString(lc.SystemFloat)
		if err != nil || f.IsNegative() {
			return opts, fmt.Errorf("ledger.system_float: invalid amount %q", lc.SystemFloat)
		}
		opts.SystemFloat = f
	}
	if lc.HoldTTL > 0 {
		opts.HoldTTL = lc.HoldTTL
	}
	if lc.Adjustments != "" {
		opts.Adjustments = AdjustmentPolicy(lc.Adjustments)
	}
	if eventsTopic != "" {
		opts.EventsTopic = eventsTopic
	}
	if opts.SystemAccountID == opts.PlatformAccountID {
		return opts, fmt.Errorf("system and platform accounts must differ")
	}
	return opts, nil
}
