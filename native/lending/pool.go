package lending

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	nativecommon "nhblend/native/common"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/configuration"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/oracle"
	"nhblend/native/lending/rates"
	"nhblend/native/lending/tokens"
	"nhblend/native/lending/wadray"
	"nhblend/observability"
)

const moduleName = "lending"

// Bank custodies underlying assets.
type Bank interface {
	Transfer(asset, from, to crypto.Address, amount *uint256.Int) error
	BalanceOf(asset, holder crypto.Address) *uint256.Int
}

// FeeCollector charges the fixed per-action fee.
type FeeCollector interface {
	CollectFee(payer crypto.Address, action string) error
}

// Snapshotter is implemented by collaborators that can roll back their own
// state when an action aborts.
type Snapshotter interface {
	Snapshot() func()
}

// Config captures the pool-wide settings.
type Config struct {
	Treasury                   crypto.Address
	FlashLoanPremiumTotal      uint64
	FlashLoanPremiumToProtocol uint64
}

// Pool is the entry point of the lending core. Every state-changing call runs
// as one all-or-nothing action: on error every ledger is restored and no
// event is emitted.
type Pool struct {
	mu sync.Mutex
	// inCallback is set while a flash-loan receiver runs with mu held.
	// callbackMu lets views read during that window.
	inCallback atomic.Bool
	callbackMu sync.RWMutex

	state    *ProtocolState
	bank     Bank
	oracle   oracle.PriceOracle
	strategy *rates.Strategy
	acl      *acl.Manager
	fees     FeeCollector
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	logger   *slog.Logger
	metrics  *observability.LendingMetrics
	clock    func() uint64
	treasury crypto.Address

	pending []events.Event
	touched map[crypto.Address]struct{}
}

// NewPool wires a pool over its collaborators.
func NewPool(cfg Config, bank Bank, prices oracle.PriceOracle, roles *acl.Manager) (*Pool, error) {
	if bank == nil {
		return nil, fmt.Errorf("lending: bank not configured")
	}
	if prices == nil {
		return nil, fmt.Errorf("lending: price oracle not configured")
	}
	if roles == nil {
		return nil, fmt.Errorf("lending: access control not configured")
	}
	if cfg.Treasury.IsZero() {
		return nil, errcodes.ErrInvalidTreasury
	}
	if cfg.FlashLoanPremiumTotal > wadray.PercentageFactor || cfg.FlashLoanPremiumToProtocol > wadray.PercentageFactor {
		return nil, errcodes.ErrInvalidFlashloanPremium
	}
	state := NewProtocolState()
	state.flashLoanPremiumTotal = cfg.FlashLoanPremiumTotal
	state.flashLoanPremiumToProtocol = cfg.FlashLoanPremiumToProtocol
	return &Pool{
		state:    state,
		bank:     bank,
		oracle:   prices,
		strategy: rates.NewStrategy(),
		acl:      roles,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		clock:    func() uint64 { return uint64(time.Now().Unix()) },
		treasury: cfg.Treasury,
	}, nil
}

// DefaultConfig returns the default premiums for the given treasury.
func DefaultConfig(treasury crypto.Address) Config {
	return Config{
		Treasury:                   treasury,
		FlashLoanPremiumTotal:      DefaultFlashLoanPremiumTotal,
		FlashLoanPremiumToProtocol: DefaultFlashLoanPremiumToProtocol,
	}
}

func (p *Pool) SetFeeCollector(fees FeeCollector) { p.fees = fees }

func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	p.emitter = emitter
}

// SetPauses wires the module pause switch. A paused module rejects user
// actions; admin operations stay available.
func (p *Pool) SetPauses(pauses nativecommon.PauseView) { p.pauses = pauses }

func (p *Pool) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
}

func (p *Pool) SetMetrics(metrics *observability.LendingMetrics) { p.metrics = metrics }

// SetClock overrides the unix-second time source.
func (p *Pool) SetClock(clock func() uint64) {
	if clock != nil {
		p.clock = clock
	}
}

// Treasury returns the account receiving protocol revenue.
func (p *Pool) Treasury() crypto.Address { return p.treasury }

// ACL returns the role registry.
func (p *Pool) ACL() *acl.Manager { return p.acl }

func (p *Pool) emit(evt events.Event) {
	p.pending = append(p.pending, evt)
}

func (p *Pool) touch(asset crypto.Address) {
	if p.touched != nil {
		p.touched[asset] = struct{}{}
	}
}

func (p *Pool) snapshot() []func() {
	restores := []func(){p.state.Snapshot(), p.strategy.Snapshot()}
	for _, token := range p.state.receipts {
		restores = append(restores, token.Snapshot())
	}
	for _, token := range p.state.debts {
		restores = append(restores, token.Snapshot())
	}
	if s, ok := p.bank.(Snapshotter); ok {
		restores = append(restores, s.Snapshot())
	}
	if s, ok := p.fees.(Snapshotter); ok {
		restores = append(restores, s.Snapshot())
	}
	return restores
}

// lockAction acquires the pool for a state change. Changes requested while a
// flash-loan receiver runs are rejected.
func (p *Pool) lockAction() error {
	if p.inCallback.Load() {
		return errcodes.ErrReentrancy
	}
	p.mu.Lock()
	return nil
}

// lockView acquires the pool for reading and returns the release func. While
// a flash-loan receiver runs, views read the in-flight state instead of
// waiting for the action to finish.
func (p *Pool) lockView() func() {
	if p.inCallback.Load() {
		p.callbackMu.RLock()
		if p.inCallback.Load() {
			return p.callbackMu.RUnlock
		}
		p.callbackMu.RUnlock()
	}
	p.mu.Lock()
	return p.mu.Unlock
}

// execute runs fn as one action. User actions are subject to the module
// pause switch.
func (p *Pool) execute(action string, userAction bool, fn func(now uint64) error) error {
	if err := p.lockAction(); err != nil {
		p.metrics.ObserveAction(action, 0, err)
		return err
	}
	defer p.mu.Unlock()

	start := time.Now()
	if userAction {
		if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
			p.metrics.ObserveAction(action, time.Since(start), err)
			return fmt.Errorf("%w: %w", errcodes.ErrModulePaused, err)
		}
	}

	restores := p.snapshot()
	p.pending = nil
	p.touched = make(map[crypto.Address]struct{})
	err := fn(p.clock())
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		p.pending = nil
		p.touched = nil
		p.metrics.ObserveAction(action, time.Since(start), err)
		p.logger.Debug("lending action aborted", "action", action, "error", err)
		return err
	}

	committed := p.pending
	p.pending = nil
	for _, evt := range committed {
		p.emitter.Emit(evt)
	}
	p.recordReserves()
	p.touched = nil
	p.metrics.ObserveAction(action, time.Since(start), nil)
	return nil
}

func (p *Pool) recordReserves() {
	if p.metrics == nil {
		return
	}
	for asset := range p.touched {
		reserve, ok := p.state.reserves[asset]
		if !ok {
			continue
		}
		debt, err := p.state.debt(asset)
		if err != nil {
			continue
		}
		totalDebt, err := wadray.RayMul(debt.ScaledTotalSupply(), reserve.VariableBorrowIndex)
		if err != nil {
			continue
		}
		p.metrics.RecordReserve(observability.ReserveSnapshot{
			Asset:               asset.String(),
			AvailableLiquidity:  reserve.VirtualUnderlyingBalance,
			TotalDebt:           totalDebt,
			LiquidityIndex:      reserve.LiquidityIndex,
			VariableBorrowIndex: reserve.VariableBorrowIndex,
			LiquidityRate:       reserve.CurrentLiquidityRate,
			VariableBorrowRate:  reserve.CurrentVariableBorrowRate,
		})
	}
}

func (p *Pool) collectFee(payer crypto.Address, action string) error {
	if p.fees == nil {
		return nil
	}
	return p.fees.CollectFee(payer, action)
}

// pullUnderlying moves underlying owed to the protocol out of a user
// account.
func (p *Pool) pullUnderlying(asset, from, to crypto.Address, amount *uint256.Int) error {
	if err := p.bank.Transfer(asset, from, to, amount); err != nil {
		return fmt.Errorf("%w: %w", errcodes.ErrInsufficientUnderlyingBalance, err)
	}
	return nil
}

// loadReserve resolves the reserve and its token ledgers.
func (p *Pool) loadReserve(asset crypto.Address) (*ReserveData, *tokens.ReceiptToken, *tokens.DebtToken, error) {
	reserve, err := p.state.reserve(asset)
	if err != nil {
		return nil, nil, nil, err
	}
	receipt, err := p.state.receipt(asset)
	if err != nil {
		return nil, nil, nil, err
	}
	debt, err := p.state.debt(asset)
	if err != nil {
		return nil, nil, nil, err
	}
	return reserve, receipt, debt, nil
}

func (p *Pool) setUsingAsCollateral(user, asset crypto.Address, id uint16, enabled bool) error {
	cfg := p.state.userConfig(user)
	if err := cfg.SetUsingAsCollateral(id, enabled); err != nil {
		return err
	}
	p.state.setUserConfig(user, cfg)
	p.emit(events.ReserveUsedAsCollateral{Reserve: asset, User: user, Enabled: enabled})
	return nil
}

func (p *Pool) setBorrowing(user crypto.Address, id uint16, borrowing bool) error {
	cfg := p.state.userConfig(user)
	if err := cfg.SetBorrowing(id, borrowing); err != nil {
		return err
	}
	p.state.setUserConfig(user, cfg)
	return nil
}

// GetReserveData returns a copy of the reserve of asset.
func (p *Pool) GetReserveData(asset crypto.Address) (*ReserveData, error) {
	defer p.lockView()()
	reserve, err := p.state.reserve(asset)
	if err != nil {
		return nil, err
	}
	return reserve.Clone(), nil
}

// GetReservesList returns the listed assets in slot order.
func (p *Pool) GetReservesList() []crypto.Address {
	defer p.lockView()()
	return p.state.ReservesList()
}

// GetUserAccountData aggregates the position of user at the current time.
func (p *Pool) GetUserAccountData(user crypto.Address) (AccountData, error) {
	defer p.lockView()()
	return p.accountDataFor(user, p.clock())
}

// GetUserConfiguration returns the collateral/borrowing flags of user.
func (p *Pool) GetUserConfiguration(user crypto.Address) configuration.UserConfiguration {
	defer p.lockView()()
	return p.state.userConfig(user)
}

// GetUserEMode returns the eMode category of user, 0 when none.
func (p *Pool) GetUserEMode(user crypto.Address) uint8 {
	defer p.lockView()()
	return p.state.userEMode[user]
}

func (p *Pool) GetEModeCategory(id uint8) configuration.EModeCategory {
	defer p.lockView()()
	return p.state.eModeCategory(id)
}

// GetReserveNormalizedIncome projects the liquidity index of asset to now.
func (p *Pool) GetReserveNormalizedIncome(asset crypto.Address) (*uint256.Int, error) {
	defer p.lockView()()
	reserve, err := p.state.reserve(asset)
	if err != nil {
		return nil, err
	}
	return normalizedIncome(reserve, p.clock())
}

// GetReserveNormalizedVariableDebt projects the variable borrow index of
// asset to now.
func (p *Pool) GetReserveNormalizedVariableDebt(asset crypto.Address) (*uint256.Int, error) {
	defer p.lockView()()
	reserve, err := p.state.reserve(asset)
	if err != nil {
		return nil, err
	}
	return normalizedDebt(reserve, p.clock())
}

// Balances returns the receipt and debt balances of user in asset, valued at
// the current time.
func (p *Pool) Balances(asset, user crypto.Address) (supplied, borrowed *uint256.Int, err error) {
	defer p.lockView()()
	reserve, receipt, debt, err := p.loadReserve(asset)
	if err != nil {
		return nil, nil, err
	}
	now := p.clock()
	income, err := normalizedIncome(reserve, now)
	if err != nil {
		return nil, nil, err
	}
	debtIndex, err := normalizedDebt(reserve, now)
	if err != nil {
		return nil, nil, err
	}
	if supplied, err = receipt.BalanceOf(user, income); err != nil {
		return nil, nil, err
	}
	if borrowed, err = debt.BalanceOf(user, debtIndex); err != nil {
		return nil, nil, err
	}
	return supplied, borrowed, nil
}

// ReceiptToken returns the receipt ledger of asset.
func (p *Pool) ReceiptToken(asset crypto.Address) (*tokens.ReceiptToken, error) {
	defer p.lockView()()
	return p.state.receipt(asset)
}

// DebtToken returns the variable debt ledger of asset.
func (p *Pool) DebtToken(asset crypto.Address) (*tokens.DebtToken, error) {
	defer p.lockView()()
	return p.state.debt(asset)
}

// FlashLoanPremiums returns the total premium and the protocol share, in
// basis points.
func (p *Pool) FlashLoanPremiums() (total, toProtocol uint64) {
	defer p.lockView()()
	return p.state.flashLoanPremiumTotal, p.state.flashLoanPremiumToProtocol
}

// InterestRateData returns the rate parameters of asset.
func (p *Pool) InterestRateData(asset crypto.Address) (rates.InterestRateData, bool) {
	return p.strategy.InterestRateData(asset)
}
