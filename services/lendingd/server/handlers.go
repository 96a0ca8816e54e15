package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"

	"nhblend/crypto"
	"nhblend/native/lending"
	"nhblend/native/lending/rates"
	"nhblend/native/lending/wadray"
	"nhblend/services/lendingd/journal"
	"nhblend/services/lendingd/middleware"
)

const maxBodyBytes = 1 << 20

// parseAmount reads a decimal amount. "max" selects the full balance where
// the action supports it.
func parseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.EqualFold(trimmed, "max") {
		return wadray.MaxUint256(), nil
	}
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// decode resolves the caller and reads the JSON body into v. An empty body
// leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) (crypto.Address, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return crypto.Address{}, false
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.badRequest(w, "invalid payload: "+err.Error())
		return crypto.Address{}, false
	}
	return actor, true
}

func entryFor(r *http.Request, name string, actor crypto.Address, req interface{}) journal.Entry {
	detail, _ := json.Marshal(req)
	return journal.Entry{
		RequestID: chimw.GetReqID(r.Context()),
		Name:      name,
		Actor:     actor.String(),
		Detail:    string(detail),
	}
}

// commit runs fn as one journaled market mutation and writes its result.
func (s *Server) commit(w http.ResponseWriter, r *http.Request, name string, actor crypto.Address, req interface{}, fn func() (interface{}, error)) {
	var result interface{}
	err := s.market.Do(r.Context(), entryFor(r, name, actor, req), func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if result == nil {
		result = map[string]string{"status": "ok"}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func orActor(addr, actor crypto.Address) crypto.Address {
	if addr.IsZero() {
		return actor
	}
	return addr
}

type amountResponse struct {
	Amount string `json:"amount"`
}

// Supply deposits underlying on behalf of a user.
func (s *Server) Supply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset        crypto.Address `json:"asset"`
		Amount       string         `json:"amount"`
		OnBehalfOf   crypto.Address `json:"onBehalfOf"`
		ReferralCode uint16         `json:"referralCode"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	s.commit(w, r, "supply", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().Supply(actor, req.Asset, amount, orActor(req.OnBehalfOf, actor), req.ReferralCode)
	})
}

// Withdraw redeems receipt tokens for underlying.
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset  crypto.Address `json:"asset"`
		Amount string         `json:"amount"`
		To     crypto.Address `json:"to"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	s.commit(w, r, "withdraw", actor, req, func() (interface{}, error) {
		withdrawn, err := s.market.Pool().Withdraw(actor, req.Asset, amount, orActor(req.To, actor))
		if err != nil {
			return nil, err
		}
		return amountResponse{Amount: withdrawn.Dec()}, nil
	})
}

// Borrow opens variable-rate debt.
func (s *Server) Borrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset        crypto.Address `json:"asset"`
		Amount       string         `json:"amount"`
		OnBehalfOf   crypto.Address `json:"onBehalfOf"`
		ReferralCode uint16         `json:"referralCode"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	s.commit(w, r, "borrow", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().Borrow(actor, req.Asset, amount, lending.InterestRateModeVariable, orActor(req.OnBehalfOf, actor), req.ReferralCode)
	})
}

// Repay pays back debt with underlying or with receipt tokens.
func (s *Server) Repay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset      crypto.Address `json:"asset"`
		Amount     string         `json:"amount"`
		OnBehalfOf crypto.Address `json:"onBehalfOf"`
		UseATokens bool           `json:"useATokens"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.UseATokens && !req.OnBehalfOf.IsZero() && req.OnBehalfOf != actor {
		s.badRequest(w, "receipt token repayment only covers the caller's own debt")
		return
	}
	s.commit(w, r, "repay", actor, req, func() (interface{}, error) {
		var (
			repaid *uint256.Int
			err    error
		)
		if req.UseATokens {
			repaid, err = s.market.Pool().RepayWithATokens(actor, req.Asset, amount)
		} else {
			repaid, err = s.market.Pool().Repay(actor, req.Asset, amount, orActor(req.OnBehalfOf, actor))
		}
		if err != nil {
			return nil, err
		}
		return amountResponse{Amount: repaid.Dec()}, nil
	})
}

// SetCollateral toggles whether a supplied reserve backs the caller's debt.
func (s *Server) SetCollateral(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset   crypto.Address `json:"asset"`
		Enabled bool           `json:"enabled"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "set_collateral", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().SetUserUseReserveAsCollateral(actor, req.Asset, req.Enabled)
	})
}

// SetUserEMode switches the caller's eMode category.
func (s *Server) SetUserEMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category uint8 `json:"category"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "set_user_emode", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().SetUserEMode(actor, req.Category)
	})
}

// Liquidate repays debt of an unhealthy account in exchange for collateral.
func (s *Server) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CollateralAsset crypto.Address `json:"collateralAsset"`
		DebtAsset       crypto.Address `json:"debtAsset"`
		User            crypto.Address `json:"user"`
		DebtToCover     string         `json:"debtToCover"`
		ReceiveAToken   bool           `json:"receiveAToken"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	debtToCover, err := parseAmount(req.DebtToCover)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	s.commit(w, r, "liquidation_call", actor, req, func() (interface{}, error) {
		result, err := s.market.Pool().LiquidationCall(lending.LiquidationCallParams{
			Liquidator:      actor,
			CollateralAsset: req.CollateralAsset,
			DebtAsset:       req.DebtAsset,
			User:            req.User,
			DebtToCover:     debtToCover,
			ReceiveAToken:   req.ReceiveAToken,
		})
		if err != nil {
			return nil, err
		}
		return liquidationView(result), nil
	})
}

// MintToTreasury converts accrued protocol revenue into treasury receipts.
func (s *Server) MintToTreasury(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assets []crypto.Address `json:"assets"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "mint_to_treasury", actor, req, func() (interface{}, error) {
		assets := req.Assets
		if len(assets) == 0 {
			assets = s.market.Pool().GetReservesList()
		}
		minted, err := s.market.Pool().MintToTreasury(assets)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(minted))
		for asset, amount := range minted {
			out[asset.String()] = amount.Dec()
		}
		return map[string]interface{}{"minted": out}, nil
	})
}

// InitReserve lists a new asset.
func (s *Server) InitReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset        crypto.Address         `json:"asset"`
		Decimals     uint8                  `json:"decimals"`
		InterestRate rates.InterestRateData `json:"interestRate"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "init_reserve", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().InitReserve(actor, lending.InitReserveInput{
			Asset:            req.Asset,
			Decimals:         req.Decimals,
			InterestRateData: req.InterestRate,
		})
	})
}

type reserveSettingRequest struct {
	Enabled              *bool                   `json:"enabled,omitempty"`
	Value                *uint64                 `json:"value,omitempty"`
	GracePeriod          uint64                  `json:"gracePeriod,omitempty"`
	LTV                  uint64                  `json:"ltv,omitempty"`
	LiquidationThreshold uint64                  `json:"liquidationThreshold,omitempty"`
	LiquidationBonus     uint64                  `json:"liquidationBonus,omitempty"`
	InterestRate         *rates.InterestRateData `json:"interestRate,omitempty"`
}

type reserveSetter func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error

func boolSetter(set func(*lending.Pool, crypto.Address, crypto.Address, bool) error) reserveSetter {
	return func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error {
		if req.Enabled == nil {
			return fieldError("enabled is required")
		}
		return set(pool, caller, asset, *req.Enabled)
	}
}

func uintSetter(set func(*lending.Pool, crypto.Address, crypto.Address, uint64) error) reserveSetter {
	return func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error {
		if req.Value == nil {
			return fieldError("value is required")
		}
		return set(pool, caller, asset, *req.Value)
	}
}

// fieldError reports a malformed setting payload.
type fieldError string

func (e fieldError) Error() string { return string(e) }

var reserveSetters = map[string]reserveSetter{
	"collateral": func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error {
		return pool.ConfigureReserveAsCollateral(caller, asset, req.LTV, req.LiquidationThreshold, req.LiquidationBonus)
	},
	"borrowing":            boolSetter((*lending.Pool).SetReserveBorrowing),
	"flashloan":            boolSetter((*lending.Pool).SetReserveFlashLoaning),
	"active":               boolSetter((*lending.Pool).SetReserveActive),
	"freeze":               boolSetter((*lending.Pool).SetReserveFreeze),
	"siloed":               boolSetter((*lending.Pool).SetSiloedBorrowing),
	"isolation-borrowable": boolSetter((*lending.Pool).SetBorrowableInIsolation),
	"pause": func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error {
		if req.Enabled == nil {
			return fieldError("enabled is required")
		}
		return pool.SetReservePause(caller, asset, *req.Enabled, req.GracePeriod)
	},
	"reserve-factor": uintSetter((*lending.Pool).SetReserveFactor),
	"borrow-cap":     uintSetter((*lending.Pool).SetBorrowCap),
	"supply-cap":     uintSetter((*lending.Pool).SetSupplyCap),
	"debt-ceiling":   uintSetter((*lending.Pool).SetDebtCeiling),
	"protocol-fee":   uintSetter((*lending.Pool).SetLiquidationProtocolFee),
	"emode-category": func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error {
		if req.Value == nil {
			return fieldError("value is required")
		}
		if *req.Value > 255 {
			return fieldError("value is out of range")
		}
		return pool.SetAssetEModeCategory(caller, asset, uint8(*req.Value))
	},
	"interest-rate": func(pool *lending.Pool, caller, asset crypto.Address, req reserveSettingRequest) error {
		if req.InterestRate == nil {
			return fieldError("interestRate is required")
		}
		return pool.SetReserveInterestRateData(caller, asset, *req.InterestRate)
	},
	"drop": func(pool *lending.Pool, caller, asset crypto.Address, _ reserveSettingRequest) error {
		return pool.DropReserve(caller, asset)
	},
}

// ConfigureReserve applies one configurator setting to a listed reserve.
// Authorization follows the caller's pool roles.
func (s *Server) ConfigureReserve(w http.ResponseWriter, r *http.Request) {
	asset, err := crypto.DecodeAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.badRequest(w, "invalid asset: "+err.Error())
		return
	}
	setting := chi.URLParam(r, "setting")
	setter, known := reserveSetters[setting]
	if !known {
		s.notFound(w, "unknown reserve setting "+strconv.Quote(setting))
		return
	}
	var req reserveSettingRequest
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "configure_reserve."+setting, actor, req, func() (interface{}, error) {
		return nil, setter(s.market.Pool(), actor, asset, req)
	})
}

// SetEModeCategory creates or updates an eMode category.
func (s *Server) SetEModeCategory(w http.ResponseWriter, r *http.Request) {
	var req EModeView
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "set_emode_category", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().SetEModeCategory(actor, req.ID, req.LTV, req.LiquidationThreshold, req.LiquidationBonus, req.Label)
	})
}

// SetPoolPause pauses or unpauses every reserve.
func (s *Server) SetPoolPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused      bool   `json:"paused"`
		GracePeriod uint64 `json:"gracePeriod"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "set_pool_pause", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().SetPoolPause(actor, req.Paused, req.GracePeriod)
	})
}

// UpdateFlashloanPremiums sets the flash loan premium and protocol share.
func (s *Server) UpdateFlashloanPremiums(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Total      uint64 `json:"total"`
		ToProtocol uint64 `json:"toProtocol"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	s.commit(w, r, "update_flashloan_premiums", actor, req, func() (interface{}, error) {
		return nil, s.market.Pool().UpdateFlashloanPremiums(actor, req.Total, req.ToProtocol)
	})
}

// SetPrice records an oracle quote in base-currency units.
func (s *Server) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset crypto.Address `json:"asset"`
		Price string         `json:"price"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	price, err := uint256.FromDecimal(strings.TrimSpace(req.Price))
	if err != nil {
		s.badRequest(w, "invalid price")
		return
	}
	if err := s.market.SetPrice(r.Context(), entryFor(r, "set_price", actor, req), req.Asset, price); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Faucet credits underlying to a wallet from outside the protocol.
func (s *Server) Faucet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset  crypto.Address `json:"asset"`
		Holder crypto.Address `json:"holder"`
		Amount string         `json:"amount"`
	}
	actor, ok := s.decode(w, r, &req)
	if !ok {
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		s.badRequest(w, "invalid amount")
		return
	}
	holder := orActor(req.Holder, actor)
	if err := s.market.Credit(r.Context(), entryFor(r, "faucet", actor, req), req.Asset, holder, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, amountResponse{Amount: s.market.BalanceOf(req.Asset, holder).Dec()})
}

// TakeSnapshot persists the market immediately.
func (s *Server) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	seq, err := s.market.Snapshot(r.Context(), "manual")
	if errors.Is(err, errSnapshotsDisabled) {
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: errorBody{Name: "SNAPSHOTS_DISABLED"}})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"sequence": seq})
}

// ListReserves renders every listed reserve.
func (s *Server) ListReserves(w http.ResponseWriter, _ *http.Request) {
	reserves, err := s.market.Reserves()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"reserves": reserves})
}

// GetReserve renders one reserve.
func (s *Server) GetReserve(w http.ResponseWriter, r *http.Request) {
	asset, err := crypto.DecodeAddress(chi.URLParam(r, "asset"))
	if err != nil {
		s.badRequest(w, "invalid asset: "+err.Error())
		return
	}
	view, err := s.market.Reserve(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// GetEModeCategory renders a configured eMode category.
func (s *Server) GetEModeCategory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 8)
	if err != nil {
		s.badRequest(w, "invalid category id")
		return
	}
	view, ok := s.market.EModeCategory(uint8(id))
	if !ok {
		s.notFound(w, "category not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// GetAccount renders a user's position.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, err := crypto.DecodeAddress(chi.URLParam(r, "user"))
	if err != nil {
		s.badRequest(w, "invalid user: "+err.Error())
		return
	}
	view, err := s.market.Account(user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// GetFeeTotals reports the fees collected for an action domain.
func (s *Server) GetFeeTotals(w http.ResponseWriter, r *http.Request) {
	totals, ok := s.market.FeeTotals(chi.URLParam(r, "domain"))
	if !ok {
		s.notFound(w, "fees not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"domain":  totals.Domain,
		"actions": totals.Actions,
		"fee":     dec(totals.Fee),
	})
}

// ListJournal lists recent journaled actions.
func (s *Server) ListJournal(w http.ResponseWriter, r *http.Request) {
	q := journal.Query{Actor: r.URL.Query().Get("actor"), Name: r.URL.Query().Get("action")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.badRequest(w, "invalid limit")
			return
		}
		q.Limit = limit
	}
	actions, err := s.market.Actions(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}
