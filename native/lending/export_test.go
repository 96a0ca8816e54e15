package lending

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nhblend/native/lending/acl"
	"nhblend/native/lending/oracle"
	"nhblend/state/bank"
)

func TestExportImportKeepsPendingLTV(t *testing.T) {
	m := newTestMarket(t)
	m.roles.Grant(acl.RoleFlashBorrower, dave)
	require.NoError(t, m.pool.SetReserveFreeze(admin, usdc, true))
	m.supply(bob, weth, amount("10000000000000000000"))
	m.borrow(bob, dai, amount("1000000000"))

	state, err := m.pool.ExportState()
	require.NoError(t, err)
	require.Len(t, state.Reserves, 3)
	require.True(t, state.Reserves[0].HasPending)
	require.Equal(t, uint64(8000), state.Reserves[0].PendingLTV)

	ledger := bank.NewLedger()
	require.NoError(t, ledger.Import(m.bank.Export()))
	restored, err := NewPool(DefaultConfig(treasury), ledger, m.prices, acl.NewManager(admin))
	require.NoError(t, err)
	restored.SetClock(func() uint64 { return m.now })
	require.NoError(t, restored.ImportState(state))
	require.True(t, restored.ACL().IsFlashBorrower(dave))

	_, debt, err := restored.Balances(dai, bob)
	require.NoError(t, err)
	require.Equal(t, "1000000000", debt.Dec())

	require.NoError(t, restored.SetReserveFreeze(admin, usdc, false))
	reserve, err := restored.GetReserveData(usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), reserve.Configuration.LTV)
}

func TestImportRejectsInconsistentState(t *testing.T) {
	m := newTestMarket(t)
	state, err := m.pool.ExportState()
	require.NoError(t, err)

	fresh := func() *Pool {
		pool, err := NewPool(DefaultConfig(treasury), bank.NewLedger(), oracle.NewStaticOracle(), acl.NewManager(admin))
		require.NoError(t, err)
		return pool
	}

	moved := *state
	moved.ReservesList = append(moved.ReservesList[:0:0], state.ReservesList...)
	moved.ReservesList[0], moved.ReservesList[1] = moved.ReservesList[1], moved.ReservesList[0]
	require.Error(t, fresh().ImportState(&moved))

	badRole := *state
	badRole.Roles = []RoleState{{Role: "root", Members: nil}}
	require.Error(t, fresh().ImportState(&badRole))

	require.Error(t, fresh().ImportState(nil))

	pool := fresh()
	require.NoError(t, pool.ImportState(state))
	require.Equal(t, state.ReservesList, pool.GetReservesList())
}
