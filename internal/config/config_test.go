package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultFile(t *testing.T) {
	t.Setenv("LEDGER_SERVER_PORT", "9090")

	cfg, err := LoadConfig(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "simulated", cfg.Payment.Mode)
	assert.Equal(t, "ledger.order.settled", cfg.Kafka.Topic.OrderSettled)

	f, err := cfg.Finance.ParseFinance()
	require.NoError(t, err)
	assert.Equal(t, "1980", f.MemberProductPrice.String())
	assert.Equal(t, "0.8", f.MerchantShare.String())
	assert.Equal(t, 6, f.MaxMemberLevel)
	require.Len(t, f.Allocations, 9)
	assert.Equal(t, PlatformRevenuePool, f.Allocations[0].Pool)
	assert.Equal(t, "branch_pool", f.Allocations[1].Pool)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_TempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte("server:\n  port: 7001\nauth:\n  secret: abc\n  admin_mobiles:\n    - \"13800000000\"\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, []string{"13800000000"}, cfg.Auth.AdminMobiles)
}

func TestParseAllocations(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		wantErr bool
	}{
		{"empty", nil, true},
		{"missing platform pool", map[string]string{"subsidy_pool": "1"}, true},
		{"sum below one", map[string]string{PlatformRevenuePool: "0.8", "subsidy_pool": "0.1"}, true},
		{"negative ratio", map[string]string{PlatformRevenuePool: "1.1", "subsidy_pool": "-0.1"}, true},
		{"not a number", map[string]string{PlatformRevenuePool: "abc"}, true},
		{"platform only", map[string]string{PlatformRevenuePool: "1"}, false},
		{"ok", map[string]string{PlatformRevenuePool: "0.8", "subsidy_pool": "0.12", "fund_pool": "0.08"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allocs, err := ParseAllocations(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, PlatformRevenuePool, allocs[0].Pool)
			assert.Len(t, allocs, len(tt.raw))
		})
	}
}

func TestParseFinance_InvalidDecimal(t *testing.T) {
	c := FinanceConfig{
		MemberProductPrice: "1980",
		TaxRate:            "six percent",
		MaxMemberLevel:     6,
		Allocations:        map[string]string{PlatformRevenuePool: "1"},
	}
	_, err := c.ParseFinance()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tax_rate")
}
