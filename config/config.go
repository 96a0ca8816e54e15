package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"nhblend/native/fees"
	"nhblend/native/lending/rates"
)

// Config is the market definition loaded at startup: pool-wide settings,
// the reserves to list, eMode categories, role grants and action fees.
type Config struct {
	Pool     Pool                         `toml:"pool"`
	Reserves []Reserve                    `toml:"reserves"`
	EMode    []EModeCategory              `toml:"emode"`
	Roles    Roles                        `toml:"roles"`
	Fees     map[string]fees.DomainPolicy `toml:"fees"`
	Pauses   Pauses                       `toml:"pauses"`
}

// Pool captures the pool-wide settings.
type Pool struct {
	Admin                      string  `toml:"Admin"`
	Treasury                   string  `toml:"Treasury"`
	FlashLoanPremiumTotal      *uint64 `toml:"FlashLoanPremiumTotal"`
	FlashLoanPremiumToProtocol *uint64 `toml:"FlashLoanPremiumToProtocol"`
}

// Reserve describes one asset to list. Percentages are basis points, caps
// whole units and the debt ceiling has two decimals.
type Reserve struct {
	Asset                  string                 `toml:"Asset"`
	Symbol                 string                 `toml:"Symbol"`
	Decimals               uint8                  `toml:"Decimals"`
	LTV                    uint64                 `toml:"LTV"`
	LiquidationThreshold   uint64                 `toml:"LiquidationThreshold"`
	LiquidationBonus       uint64                 `toml:"LiquidationBonus"`
	ReserveFactor          uint64                 `toml:"ReserveFactor"`
	BorrowCap              uint64                 `toml:"BorrowCap"`
	SupplyCap              uint64                 `toml:"SupplyCap"`
	DebtCeiling            uint64                 `toml:"DebtCeiling"`
	LiquidationProtocolFee uint64                 `toml:"LiquidationProtocolFee"`
	BorrowingEnabled       bool                   `toml:"BorrowingEnabled"`
	FlashLoanEnabled       bool                   `toml:"FlashLoanEnabled"`
	SiloedBorrowing        bool                   `toml:"SiloedBorrowing"`
	BorrowableInIsolation  bool                   `toml:"BorrowableInIsolation"`
	Frozen                 bool                   `toml:"Frozen"`
	EModeCategory          uint8                  `toml:"EModeCategory"`
	Price                  string                 `toml:"Price"`
	InterestRate           rates.InterestRateData `toml:"InterestRate"`
}

// EModeCategory defines an efficiency-mode category.
type EModeCategory struct {
	ID                   uint8  `toml:"ID"`
	LTV                  uint64 `toml:"LTV"`
	LiquidationThreshold uint64 `toml:"LiquidationThreshold"`
	LiquidationBonus     uint64 `toml:"LiquidationBonus"`
	Label                string `toml:"Label"`
}

// Roles lists the addresses granted each role on top of the pool admin.
type Roles struct {
	PoolAdmins         []string `toml:"PoolAdmins"`
	RiskAdmins         []string `toml:"RiskAdmins"`
	AssetListingAdmins []string `toml:"AssetListingAdmins"`
	EmergencyAdmins    []string `toml:"EmergencyAdmins"`
	FlashBorrowers     []string `toml:"FlashBorrowers"`
}

// Pauses holds the module pause switch consulted before user actions.
type Pauses struct {
	Lending bool `toml:"Lending"`
}

// IsPaused implements the module pause view.
func (p Pauses) IsPaused(module string) bool {
	return strings.EqualFold(strings.TrimSpace(module), "lending") && p.Lending
}

// Load reads and validates the market configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Pool.Admin = strings.TrimSpace(c.Pool.Admin)
	c.Pool.Treasury = strings.TrimSpace(c.Pool.Treasury)
	for i := range c.Reserves {
		c.Reserves[i].Asset = strings.TrimSpace(c.Reserves[i].Asset)
		c.Reserves[i].Symbol = strings.TrimSpace(c.Reserves[i].Symbol)
		c.Reserves[i].Price = strings.TrimSpace(c.Reserves[i].Price)
	}
	if c.Fees == nil {
		c.Fees = map[string]fees.DomainPolicy{}
	}
}

// Persist writes cfg to path as TOML, creating the parent directory.
func Persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
