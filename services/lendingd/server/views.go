package server

import (
	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/rates"
)

// ReserveView is the JSON form of a listed reserve. Amounts are decimal
// strings in the asset's smallest unit, rates and indexes in ray.
type ReserveView struct {
	Asset                    crypto.Address         `json:"asset"`
	ID                       uint16                 `json:"id"`
	Decimals                 uint8                  `json:"decimals"`
	Active                   bool                   `json:"active"`
	Frozen                   bool                   `json:"frozen"`
	Paused                   bool                   `json:"paused"`
	BorrowingEnabled         bool                   `json:"borrowingEnabled"`
	FlashLoanEnabled         bool                   `json:"flashLoanEnabled"`
	SiloedBorrowing          bool                   `json:"siloedBorrowing"`
	BorrowableInIsolation    bool                   `json:"borrowableInIsolation"`
	LTV                      uint64                 `json:"ltv"`
	LiquidationThreshold     uint64                 `json:"liquidationThreshold"`
	LiquidationBonus         uint64                 `json:"liquidationBonus"`
	ReserveFactor            uint64                 `json:"reserveFactor"`
	BorrowCap                uint64                 `json:"borrowCap"`
	SupplyCap                uint64                 `json:"supplyCap"`
	DebtCeiling              uint64                 `json:"debtCeiling"`
	IsolationModeTotalDebt   uint64                 `json:"isolationModeTotalDebt"`
	LiquidationProtocolFee   uint64                 `json:"liquidationProtocolFee"`
	EModeCategory            uint8                  `json:"eModeCategory"`
	LiquidityIndex           string                 `json:"liquidityIndex"`
	VariableBorrowIndex      string                 `json:"variableBorrowIndex"`
	LiquidityRate            string                 `json:"liquidityRate"`
	VariableBorrowRate       string                 `json:"variableBorrowRate"`
	AccruedToTreasury        string                 `json:"accruedToTreasury"`
	VirtualUnderlyingBalance string                 `json:"virtualUnderlyingBalance"`
	Deficit                  string                 `json:"deficit"`
	TotalSupplied            string                 `json:"totalSupplied"`
	TotalDebt                string                 `json:"totalDebt"`
	Price                    string                 `json:"price,omitempty"`
	LastUpdateTimestamp      uint64                 `json:"lastUpdateTimestamp"`
	LiquidationGracePeriod   uint64                 `json:"liquidationGracePeriodUntil"`
	InterestRate             rates.InterestRateData `json:"interestRate"`
}

// PositionView is one reserve of an account.
type PositionView struct {
	Asset      crypto.Address `json:"asset"`
	Supplied   string         `json:"supplied"`
	Borrowed   string         `json:"borrowed"`
	Collateral bool           `json:"collateral"`
	Wallet     string         `json:"wallet"`
}

// AccountView aggregates a user's market position in the base currency.
type AccountView struct {
	User                    crypto.Address `json:"user"`
	EModeCategory           uint8          `json:"eModeCategory"`
	TotalCollateralBase     string         `json:"totalCollateralBase"`
	TotalDebtBase           string         `json:"totalDebtBase"`
	AvailableBorrowsBase    string         `json:"availableBorrowsBase"`
	AvgLTV                  uint64         `json:"avgLtv"`
	AvgLiquidationThreshold uint64         `json:"avgLiquidationThreshold"`
	HealthFactor            string         `json:"healthFactor"`
	HasZeroLTVCollateral    bool           `json:"hasZeroLtvCollateral"`
	Positions               []PositionView `json:"positions"`
}

// EModeView is the JSON form of an eMode category.
type EModeView struct {
	ID                   uint8  `json:"id"`
	LTV                  uint64 `json:"ltv"`
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	LiquidationBonus     uint64 `json:"liquidationBonus"`
	Label                string `json:"label"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// Reserve renders the reserve of asset with its totals at the current time.
func (m *Market) Reserve(asset crypto.Address) (ReserveView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveView(asset)
}

// Reserves renders every listed reserve in slot order.
func (m *Market) Reserves() ([]ReserveView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pool.GetReservesList()
	out := make([]ReserveView, 0, len(list))
	for _, asset := range list {
		view, err := m.reserveView(asset)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func (m *Market) reserveView(asset crypto.Address) (ReserveView, error) {
	reserve, err := m.pool.GetReserveData(asset)
	if err != nil {
		return ReserveView{}, err
	}
	income, err := m.pool.GetReserveNormalizedIncome(asset)
	if err != nil {
		return ReserveView{}, err
	}
	debtIndex, err := m.pool.GetReserveNormalizedVariableDebt(asset)
	if err != nil {
		return ReserveView{}, err
	}
	receipt, err := m.pool.ReceiptToken(asset)
	if err != nil {
		return ReserveView{}, err
	}
	debt, err := m.pool.DebtToken(asset)
	if err != nil {
		return ReserveView{}, err
	}
	supplied, err := receipt.TotalSupply(income)
	if err != nil {
		return ReserveView{}, err
	}
	borrowed, err := debt.TotalSupply(debtIndex)
	if err != nil {
		return ReserveView{}, err
	}
	cfg := reserve.Configuration
	view := ReserveView{
		Asset:                    asset,
		ID:                       reserve.ID,
		Decimals:                 cfg.Decimals,
		Active:                   cfg.Active,
		Frozen:                   cfg.Frozen,
		Paused:                   cfg.Paused,
		BorrowingEnabled:         cfg.BorrowingEnabled,
		FlashLoanEnabled:         cfg.FlashLoanEnabled,
		SiloedBorrowing:          cfg.SiloedBorrowing,
		BorrowableInIsolation:    cfg.BorrowableInIsolation,
		LTV:                      cfg.LTV,
		LiquidationThreshold:     cfg.LiquidationThreshold,
		LiquidationBonus:         cfg.LiquidationBonus,
		ReserveFactor:            cfg.ReserveFactor,
		BorrowCap:                cfg.BorrowCap,
		SupplyCap:                cfg.SupplyCap,
		DebtCeiling:              cfg.DebtCeiling,
		IsolationModeTotalDebt:   reserve.IsolationModeTotalDebt,
		LiquidationProtocolFee:   cfg.LiquidationProtocolFee,
		EModeCategory:            cfg.EModeCategory,
		LiquidityIndex:           dec(income),
		VariableBorrowIndex:      dec(debtIndex),
		LiquidityRate:            dec(reserve.CurrentLiquidityRate),
		VariableBorrowRate:       dec(reserve.CurrentVariableBorrowRate),
		AccruedToTreasury:        dec(reserve.AccruedToTreasury),
		VirtualUnderlyingBalance: dec(reserve.VirtualUnderlyingBalance),
		Deficit:                  dec(reserve.Deficit),
		TotalSupplied:            dec(supplied),
		TotalDebt:                dec(borrowed),
		LastUpdateTimestamp:      reserve.LastUpdateTimestamp,
		LiquidationGracePeriod:   reserve.LiquidationGracePeriodUntil,
	}
	if data, ok := m.pool.InterestRateData(asset); ok {
		view.InterestRate = data
	}
	if price, err := m.prices.GetAssetPrice(asset); err == nil {
		view.Price = price.Dec()
	}
	return view, nil
}

// Account renders user's position. Reserves the user never touched are
// omitted from Positions unless the wallet holds the asset.
func (m *Market) Account(user crypto.Address) (AccountView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.pool.GetUserAccountData(user)
	if err != nil {
		return AccountView{}, err
	}
	userCfg := m.pool.GetUserConfiguration(user)
	view := AccountView{
		User:                    user,
		EModeCategory:           m.pool.GetUserEMode(user),
		TotalCollateralBase:     dec(data.TotalCollateralBase),
		TotalDebtBase:           dec(data.TotalDebtBase),
		AvailableBorrowsBase:    dec(data.AvailableBorrowsBase),
		AvgLTV:                  data.AvgLTV,
		AvgLiquidationThreshold: data.AvgLiquidationThreshold,
		HealthFactor:            dec(data.HealthFactor),
		HasZeroLTVCollateral:    data.HasZeroLTVCollateral,
		Positions:               []PositionView{},
	}
	for _, asset := range m.pool.GetReservesList() {
		reserve, err := m.pool.GetReserveData(asset)
		if err != nil {
			return AccountView{}, err
		}
		supplied, borrowed, err := m.pool.Balances(asset, user)
		if err != nil {
			return AccountView{}, err
		}
		wallet := m.ledger.BalanceOf(asset, user)
		if supplied.IsZero() && borrowed.IsZero() && wallet.IsZero() {
			continue
		}
		view.Positions = append(view.Positions, PositionView{
			Asset:      asset,
			Supplied:   supplied.Dec(),
			Borrowed:   borrowed.Dec(),
			Collateral: userCfg.IsUsingAsCollateral(reserve.ID),
			Wallet:     wallet.Dec(),
		})
	}
	return view, nil
}

// EModeCategory renders category id; ok is false when it is not configured.
func (m *Market) EModeCategory(id uint8) (EModeView, bool) {
	category := m.pool.GetEModeCategory(id)
	if id == 0 || !category.Configured() {
		return EModeView{}, false
	}
	return eModeView(id, category), true
}

func eModeView(id uint8, c configuration.EModeCategory) EModeView {
	return EModeView{ID: id, LTV: c.LTV, LiquidationThreshold: c.LiquidationThreshold, LiquidationBonus: c.LiquidationBonus, Label: c.Label}
}

// LiquidationView reports what a liquidation moved.
type LiquidationView struct {
	DebtRepaid          string            `json:"debtRepaid"`
	CollateralSeized    string            `json:"collateralSeized"`
	ProtocolFee         string            `json:"protocolFee"`
	CollateralExhausted bool              `json:"collateralExhausted"`
	Deficits            map[string]string `json:"deficits,omitempty"`
}

func liquidationView(r *lending.LiquidationResult) LiquidationView {
	view := LiquidationView{
		DebtRepaid:          dec(r.DebtRepaid),
		CollateralSeized:    dec(r.CollateralSeized),
		ProtocolFee:         dec(r.ProtocolFee),
		CollateralExhausted: r.CollateralExhausted,
	}
	if len(r.Deficits) > 0 {
		view.Deficits = make(map[string]string, len(r.Deficits))
		for asset, amount := range r.Deficits {
			view.Deficits[asset.String()] = amount.Dec()
		}
	}
	return view
}
