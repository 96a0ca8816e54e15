package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"nhblend/core/events"
	"nhblend/crypto"
	"nhblend/native/lending/errcodes"
	"nhblend/native/lending/wadray"
)

// FlashLoanReceiver is called back while it holds the borrowed liquidity.
// Pool views work from inside the callback; any state change fails with
// errcodes.ErrReentrancy.
type FlashLoanReceiver interface {
	ExecuteOperation(session *FlashLoanSession) error
}

// FlashLoanReceipt is one borrowed asset of a flash loan.
type FlashLoanReceipt struct {
	Asset    crypto.Address
	Amount   *uint256.Int
	Premium  *uint256.Int
	Mode     InterestRateMode
	consumed bool
}

// Consumed reports whether the receiver has settled the receipt.
func (r *FlashLoanReceipt) Consumed() bool { return r.consumed }

// FlashLoanSession is handed to the receiver. Every receipt must be settled
// through Repay or OpenDebt, matching the mode the loan was requested with.
type FlashLoanSession struct {
	Initiator  crypto.Address
	Receiver   crypto.Address
	OnBehalfOf crypto.Address
	Params     []byte
	Receipts   []*FlashLoanReceipt
}

func (s *FlashLoanSession) receipt(asset crypto.Address) (*FlashLoanReceipt, error) {
	for _, r := range s.Receipts {
		if r.Asset == asset {
			return r, nil
		}
	}
	return nil, errcodes.ErrInconsistentFlashloanParams
}

// Repay marks the receipt of asset as repaid. The pool pulls amount plus
// premium from the receiver once the callback returns.
func (s *FlashLoanSession) Repay(asset crypto.Address) error {
	return s.consume(asset, InterestRateModeNone)
}

// OpenDebt marks the receipt of asset as converted into variable debt of the
// initiator.
func (s *FlashLoanSession) OpenDebt(asset crypto.Address) error {
	return s.consume(asset, InterestRateModeVariable)
}

func (s *FlashLoanSession) consume(asset crypto.Address, mode InterestRateMode) error {
	r, err := s.receipt(asset)
	if err != nil {
		return err
	}
	if r.Mode != mode {
		return errcodes.ErrInconsistentFlashloanParams
	}
	if r.consumed {
		return errcodes.ErrFlashloanReceiptConsumed
	}
	r.consumed = true
	return nil
}

// FlashLoanParams describes a multi-asset flash loan.
type FlashLoanParams struct {
	Initiator         crypto.Address
	Receiver          crypto.Address
	Callback          FlashLoanReceiver
	Assets            []crypto.Address
	Amounts           []*uint256.Int
	InterestRateModes []InterestRateMode
	OnBehalfOf        crypto.Address
	Params            []byte
	ReferralCode      uint16
}

// FlashLoanSimple lends amount of a single asset to receiver for the duration
// of the callback. The loan must be repaid with the premium.
func (p *Pool) FlashLoanSimple(initiator, receiver crypto.Address, callback FlashLoanReceiver, asset crypto.Address, amount *uint256.Int, params []byte, referralCode uint16) error {
	return p.execute("flash_loan_simple", true, func(now uint64) error {
		reserve, err := p.state.reserve(asset)
		if err != nil {
			return err
		}
		if err := validateFlashloanSimple(reserve, amount); err != nil {
			return err
		}
		return p.executeFlashLoan(FlashLoanParams{
			Initiator:         initiator,
			Receiver:          receiver,
			Callback:          callback,
			Assets:            []crypto.Address{asset},
			Amounts:           []*uint256.Int{amount},
			InterestRateModes: []InterestRateMode{InterestRateModeNone},
			OnBehalfOf:        initiator,
			Params:            params,
			ReferralCode:      referralCode,
		}, now)
	})
}

// FlashLoan lends several assets at once. Each asset is either repaid with
// premium or, per its interest rate mode, left as variable debt of
// OnBehalfOf, which must be the initiator.
func (p *Pool) FlashLoan(params FlashLoanParams) error {
	return p.execute("flash_loan", true, func(now uint64) error {
		if len(params.InterestRateModes) != len(params.Assets) {
			return errcodes.ErrInconsistentFlashloanParams
		}
		reserves := make([]*ReserveData, len(params.Assets))
		for i, asset := range params.Assets {
			reserve, err := p.state.reserve(asset)
			if err != nil {
				return err
			}
			reserves[i] = reserve
		}
		if err := validateFlashloan(reserves, params.Assets, params.Amounts); err != nil {
			return err
		}
		for _, mode := range params.InterestRateModes {
			if mode != InterestRateModeNone && mode != InterestRateModeVariable {
				return errcodes.ErrInvalidInterestRateModeSelected
			}
		}
		return p.executeFlashLoan(params, now)
	})
}

func (p *Pool) executeFlashLoan(params FlashLoanParams, now uint64) error {
	if params.Callback == nil || params.Receiver.IsZero() {
		return errcodes.ErrZeroAddressNotValid
	}
	premiumTotal := p.state.flashLoanPremiumTotal
	premiumToProtocol := p.state.flashLoanPremiumToProtocol
	if p.acl.IsFlashBorrower(params.Initiator) {
		premiumTotal, premiumToProtocol = 0, 0
	}

	session := &FlashLoanSession{
		Initiator:  params.Initiator,
		Receiver:   params.Receiver,
		OnBehalfOf: params.OnBehalfOf,
		Params:     params.Params,
		Receipts:   make([]*FlashLoanReceipt, len(params.Assets)),
	}
	for i, asset := range params.Assets {
		amount := params.Amounts[i]
		premium := new(uint256.Int)
		if params.InterestRateModes[i] == InterestRateModeNone {
			var err error
			if premium, err = wadray.PercentMul(amount, premiumTotal); err != nil {
				return err
			}
		}
		session.Receipts[i] = &FlashLoanReceipt{
			Asset:   asset,
			Amount:  new(uint256.Int).Set(amount),
			Premium: premium,
			Mode:    params.InterestRateModes[i],
		}

		reserve, receipt, _, err := p.loadReserve(asset)
		if err != nil {
			return err
		}
		if reserve.VirtualUnderlyingBalance.Lt(amount) {
			return errcodes.ErrVirtualBalanceUnderflow
		}
		reserve.VirtualUnderlyingBalance = new(uint256.Int).Sub(reserve.VirtualUnderlyingBalance, amount)
		if err := receipt.TransferUnderlyingTo(params.Receiver, amount); err != nil {
			return err
		}
	}

	if err := p.runReceiver(params.Callback, session); err != nil {
		return fmt.Errorf("%w: %w", errcodes.ErrInvalidFlashloanExecutorReturn, err)
	}
	for _, r := range session.Receipts {
		if !r.consumed {
			return errcodes.ErrFlashloanReceiptNotConsumed
		}
	}

	for _, r := range session.Receipts {
		if r.Mode == InterestRateModeNone {
			if err := p.handleFlashLoanRepayment(params, r, premiumToProtocol, now); err != nil {
				return err
			}
			continue
		}
		if err := p.executeBorrow(borrowParams{
			Asset:        r.Asset,
			User:         params.Initiator,
			OnBehalfOf:   params.OnBehalfOf,
			Amount:       r.Amount,
			Mode:         r.Mode,
			ReferralCode: params.ReferralCode,
		}, now); err != nil {
			return err
		}
		p.emit(events.FlashLoan{
			Target:           params.Receiver,
			Initiator:        params.Initiator,
			Asset:            r.Asset,
			Amount:           new(uint256.Int).Set(r.Amount),
			InterestRateMode: uint8(r.Mode),
			Premium:          new(uint256.Int),
			ReferralCode:     params.ReferralCode,
		})
	}
	return nil
}

func (p *Pool) runReceiver(callback FlashLoanReceiver, session *FlashLoanSession) error {
	p.inCallback.Store(true)
	defer func() {
		p.callbackMu.Lock()
		p.inCallback.Store(false)
		p.callbackMu.Unlock()
	}()
	return callback.ExecuteOperation(session)
}

// handleFlashLoanRepayment pulls amount plus premium back from the receiver.
// The liquidity providers' share of the premium is added to the liquidity
// index; the protocol share accrues to the treasury.
func (p *Pool) handleFlashLoanRepayment(params FlashLoanParams, r *FlashLoanReceipt, premiumToProtocolBps uint64, now uint64) error {
	reserve, receipt, debt, err := p.loadReserve(r.Asset)
	if err != nil {
		return err
	}
	toProtocol, err := wadray.PercentMul(r.Premium, premiumToProtocolBps)
	if err != nil {
		return err
	}
	toLP := wadray.SubFloor(r.Premium, toProtocol)
	amountPlusPremium, err := wadray.Add(r.Amount, r.Premium)
	if err != nil {
		return err
	}

	cache := cacheReserve(reserve, debt)
	if err := updateState(reserve, &cache, now); err != nil {
		return err
	}
	if !toLP.IsZero() {
		supplied, err := wadray.RayMul(receipt.ScaledTotalSupply(), cache.NextLiquidityIndex)
		if err != nil {
			return err
		}
		accrued, err := wadray.RayMul(reserve.AccruedToTreasury, cache.NextLiquidityIndex)
		if err != nil {
			return err
		}
		totalLiquidity, err := wadray.Add(supplied, accrued)
		if err != nil {
			return err
		}
		if totalLiquidity.IsZero() {
			toProtocol = r.Premium
		} else if cache.NextLiquidityIndex, err = cumulateToLiquidityIndex(reserve, totalLiquidity, toLP); err != nil {
			return err
		}
	}
	if !toProtocol.IsZero() {
		scaled, err := wadray.RayDiv(toProtocol, cache.NextLiquidityIndex)
		if err != nil {
			return err
		}
		if reserve.AccruedToTreasury, err = wadray.Add(reserve.AccruedToTreasury, scaled); err != nil {
			return err
		}
	}
	if err := p.updateInterestRatesAndVirtualBalance(reserve, &cache, r.Asset, amountPlusPremium, nil); err != nil {
		return err
	}
	if err := p.pullUnderlying(r.Asset, params.Receiver, cache.ATokenAddress, amountPlusPremium); err != nil {
		return err
	}
	if err := receipt.HandleRepayment(params.Receiver, params.Receiver, amountPlusPremium); err != nil {
		return err
	}
	p.emit(events.FlashLoan{
		Target:           params.Receiver,
		Initiator:        params.Initiator,
		Asset:            r.Asset,
		Amount:           new(uint256.Int).Set(r.Amount),
		InterestRateMode: uint8(InterestRateModeNone),
		Premium:          new(uint256.Int).Set(r.Premium),
		ReferralCode:     params.ReferralCode,
	})
	return nil
}
