package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"nhblend/crypto"
	"nhblend/native/fees"
	"nhblend/native/lending"
	"nhblend/native/lending/acl"
	"nhblend/native/lending/oracle"
	"nhblend/native/lending/rates"
	"nhblend/services/lendingd/journal"
	"nhblend/services/lendingd/middleware"
	"nhblend/state/bank"
	"nhblend/state/lendingstore"
	"nhblend/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var (
	admin    = crypto.DeriveAddress("lendingd-admin")
	treasury = crypto.DeriveAddress("lendingd-treasury")
	alice    = crypto.DeriveAddress("lendingd-alice")
	bob      = crypto.DeriveAddress("lendingd-bob")
	usdc     = crypto.DeriveAddress("lendingd-asset", crypto.Address{0x01})
	weth     = crypto.DeriveAddress("lendingd-asset", crypto.Address{0x02})
)

type harness struct {
	server *Server
	market *Market
	pool   *lending.Pool
	ledger *bank.Ledger
}

func newHarness(t *testing.T, withStore bool) *harness {
	t.Helper()
	ledger := bank.NewLedger()
	prices := oracle.NewStaticOracle()
	pool, err := lending.NewPool(lending.DefaultConfig(treasury), ledger, prices, acl.NewManager(admin))
	require.NoError(t, err)
	now := uint64(1_700_000_000)
	pool.SetClock(func() uint64 { return now })

	curve := rates.InterestRateData{OptimalUsageRatio: 8000, VariableRateSlope1: 400, VariableRateSlope2: 7500}
	for _, asset := range []struct {
		addr     crypto.Address
		decimals uint8
		price    uint64
	}{{usdc, 6, 100_000_000}, {weth, 18, 2000_00000000}} {
		require.NoError(t, pool.InitReserve(admin, lending.InitReserveInput{Asset: asset.addr, Decimals: asset.decimals, InterestRateData: curve}))
		require.NoError(t, pool.ConfigureReserveAsCollateral(admin, asset.addr, 7500, 8000, 10500))
		require.NoError(t, pool.SetReserveBorrowing(admin, asset.addr, true))
		prices.SetAssetPrice(asset.addr, uint256.NewInt(asset.price))
	}

	db, err := journal.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	actions := journal.New(db)
	pool.SetEmitter(actions)
	collector := fees.NewCollector(fees.Policy{}, ledger)
	pool.SetFeeCollector(collector)

	cfg := MarketConfig{Pool: pool, Ledger: ledger, Prices: prices, Fees: collector, Journal: actions}
	if withStore {
		cfg.Store = lendingstore.New(storage.NewMemDB())
	}
	market, err := NewMarket(cfg)
	require.NoError(t, err)

	srv, err := New(Config{
		Market: market,
		Auth: middleware.AuthConfig{
			HMACSecret:    testSecret,
			Issuer:        "nhblend",
			Audience:      "lendingd",
			OptionalPaths: []string{"/healthz", "/metrics", "/v1/reserves", "/v1/emode"},
		},
		RateLimit: middleware.RateLimit{RequestsPerMinute: 60_000, Burst: 1_000},
	})
	require.NoError(t, err)
	return &harness{server: srv, market: market, pool: pool, ledger: ledger}
}

func token(t *testing.T, actor crypto.Address, scopes string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   actor.String(),
		"iss":   "nhblend",
		"aud":   "lendingd",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (h *harness) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(res, req)
	return res
}

func decodeError(t *testing.T, res *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out.Error
}

func fund(t *testing.T, h *harness, asset, holder crypto.Address, amount string) {
	t.Helper()
	res := h.do(t, http.MethodPost, "/v1/faucet", token(t, holder, ScopeFaucet), map[string]interface{}{
		"asset": asset.String(), "amount": amount,
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
}

func TestSupplyBorrowFlow(t *testing.T) {
	h := newHarness(t, false)
	aliceToken := token(t, alice, "")
	bobToken := token(t, bob, "")

	fund(t, h, weth, alice, "10000000000000000000")
	fund(t, h, usdc, bob, "100000000000")

	res := h.do(t, http.MethodPost, "/v1/actions/supply", aliceToken, map[string]interface{}{
		"asset": weth.String(), "amount": "10000000000000000000",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = h.do(t, http.MethodPost, "/v1/actions/supply", bobToken, map[string]interface{}{
		"asset": usdc.String(), "amount": "100000000000",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = h.do(t, http.MethodPost, "/v1/actions/borrow", aliceToken, map[string]interface{}{
		"asset": usdc.String(), "amount": "1000000000",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "1000000000", h.ledger.BalanceOf(usdc, alice).Dec())

	res = h.do(t, http.MethodGet, "/v1/accounts/"+alice.String(), aliceToken, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var account AccountView
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &account))
	require.Equal(t, alice, account.User)
	require.Len(t, account.Positions, 2)
	require.NotEqual(t, "0", account.TotalDebtBase)

	res = h.do(t, http.MethodPost, "/v1/actions/repay", aliceToken, map[string]interface{}{
		"asset": usdc.String(), "amount": "max",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var repaid amountResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &repaid))
	require.Equal(t, "1000000000", repaid.Amount)

	res = h.do(t, http.MethodPost, "/v1/actions/withdraw", aliceToken, map[string]interface{}{
		"asset": weth.String(), "amount": "max",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	require.Equal(t, "10000000000000000000", h.ledger.BalanceOf(weth, alice).Dec())
}

func TestLendingErrorsMapToStatus(t *testing.T) {
	h := newHarness(t, false)
	aliceToken := token(t, alice, "")

	fund(t, h, weth, alice, "1000000000000000000")
	fund(t, h, usdc, bob, "100000000000")
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/actions/supply", aliceToken, map[string]interface{}{
		"asset": weth.String(), "amount": "1000000000000000000",
	}).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/actions/supply", token(t, bob, ""), map[string]interface{}{
		"asset": usdc.String(), "amount": "100000000000",
	}).Code)

	res := h.do(t, http.MethodPost, "/v1/actions/borrow", aliceToken, map[string]interface{}{
		"asset": usdc.String(), "amount": "20000000000",
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.Code, res.Body.String())
	require.Equal(t, "COLLATERAL_CANNOT_COVER_NEW_BORROW", decodeError(t, res).Name)

	res = h.do(t, http.MethodPost, "/v1/admin/reserves/"+usdc.String()+"/borrow-cap", aliceToken, map[string]interface{}{"value": 10})
	require.Equal(t, http.StatusForbidden, res.Code, res.Body.String())
	require.Equal(t, "CALLER_NOT_RISK_OR_POOL_ADMIN", decodeError(t, res).Name)

	res = h.do(t, http.MethodPost, "/v1/actions/supply", aliceToken, map[string]interface{}{
		"asset": weth.String(), "amount": "abc",
	})
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = h.do(t, http.MethodPost, "/v1/actions/supply", aliceToken, map[string]interface{}{
		"asset": weth.String(), "amount": "1", "unexpected": true,
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAdminConfiguresReserve(t *testing.T) {
	h := newHarness(t, false)
	adminToken := token(t, admin, "")

	res := h.do(t, http.MethodPost, "/v1/admin/reserves/"+usdc.String()+"/borrow-cap", adminToken, map[string]interface{}{"value": 10})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = h.do(t, http.MethodPost, "/v1/admin/reserves/"+usdc.String()+"/freeze", adminToken, map[string]interface{}{"enabled": true})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = h.do(t, http.MethodPost, "/v1/admin/reserves/"+usdc.String()+"/borrowing", adminToken, map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())

	res = h.do(t, http.MethodPost, "/v1/admin/reserves/"+usdc.String()+"/unknown", adminToken, map[string]interface{}{})
	require.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(t, http.MethodGet, "/v1/reserves/"+usdc.String(), "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var view ReserveView
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &view))
	require.True(t, view.Frozen)
	require.Equal(t, uint64(10), view.BorrowCap)
	require.Equal(t, "100000000", view.Price)

	res = h.do(t, http.MethodPost, "/v1/admin/emode", adminToken, EModeView{ID: 1, LTV: 9000, LiquidationThreshold: 9300, LiquidationBonus: 10100, Label: "stable"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = h.do(t, http.MethodGet, "/v1/emode/1", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = h.do(t, http.MethodGet, "/v1/emode/2", "", nil)
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestListReservesIsPublic(t *testing.T) {
	h := newHarness(t, false)
	res := h.do(t, http.MethodGet, "/v1/reserves", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var out struct {
		Reserves []ReserveView `json:"reserves"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	require.Len(t, out.Reserves, 2)
	require.Equal(t, usdc, out.Reserves[0].Asset)
}

func TestOperatorEndpointsRequireScopes(t *testing.T) {
	h := newHarness(t, true)
	plain := token(t, alice, "")

	res := h.do(t, http.MethodPost, "/v1/actions/supply", "", map[string]interface{}{"asset": weth.String(), "amount": "1"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	for _, path := range []string{"/v1/faucet", "/v1/oracle/prices", "/v1/snapshots"} {
		res = h.do(t, http.MethodPost, path, plain, map[string]interface{}{})
		require.Equal(t, http.StatusForbidden, res.Code, path)
	}
	res = h.do(t, http.MethodGet, "/v1/journal", plain, nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = h.do(t, http.MethodPost, "/v1/oracle/prices", token(t, alice, ScopeOracle), map[string]interface{}{
		"asset": weth.String(), "price": "250000000000",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	price, err := h.market.Price(weth)
	require.NoError(t, err)
	require.Equal(t, "250000000000", price.Dec())

	unlisted := crypto.DeriveAddress("lendingd-unlisted")
	res = h.do(t, http.MethodPost, "/v1/oracle/prices", token(t, alice, ScopeOracle), map[string]interface{}{
		"asset": unlisted.String(), "price": "1",
	})
	require.Equal(t, http.StatusConflict, res.Code, res.Body.String())
}

func TestSnapshotAndJournal(t *testing.T) {
	h := newHarness(t, true)
	aliceToken := token(t, alice, "")
	fund(t, h, weth, alice, "1000")

	res := h.do(t, http.MethodPost, "/v1/actions/supply", aliceToken, map[string]interface{}{"asset": weth.String(), "amount": "1000"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	res = h.do(t, http.MethodPost, "/v1/actions/borrow", aliceToken, map[string]interface{}{"asset": usdc.String(), "amount": "1"})
	require.NotEqual(t, http.StatusOK, res.Code)

	res = h.do(t, http.MethodPost, "/v1/snapshots", token(t, admin, ScopeOperator), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var snap map[string]uint64
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &snap))
	require.Equal(t, uint64(1), snap["sequence"])

	res = h.do(t, http.MethodGet, "/v1/journal?actor="+alice.String(), token(t, admin, ScopeAudit), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var listing struct {
		Actions []journal.Action `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &listing))
	byName := map[string]journal.Action{}
	for _, action := range listing.Actions {
		byName[action.Name] = action
	}
	require.Equal(t, journal.OutcomeCommitted, byName["supply"].Outcome)
	require.NotEmpty(t, byName["supply"].Events)
	require.Equal(t, journal.OutcomeRejected, byName["borrow"].Outcome)
	require.Empty(t, byName["borrow"].Events)
	require.Equal(t, journal.OutcomeCommitted, byName["faucet"].Outcome)
}

func TestSnapshotsDisabledWithoutStore(t *testing.T) {
	h := newHarness(t, false)
	res := h.do(t, http.MethodPost, "/v1/snapshots", token(t, admin, ScopeOperator), nil)
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "SNAPSHOTS_DISABLED", decodeError(t, res).Name)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, false)
	res := h.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"status":"ok"}`, res.Body.String())
}

func TestHealthServerServingState(t *testing.T) {
	srv, checker := NewHealthServer(nil)
	defer srv.Stop()
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := checker.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
	MarkServing(checker, true)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
	MarkServing(checker, false)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
