package events

import (
	"testing"

	"github.com/holiman/uint256"

	"nhblend/crypto"
)

func TestBorrowEventAttributes(t *testing.T) {
	reserve := crypto.Address{0x01}
	user := crypto.Address{0x02}
	evt := Borrow{
		Reserve:    reserve,
		User:       user,
		OnBehalfOf: user,
		Amount:     uint256.NewInt(400),
		BorrowRate: uint256.NewInt(32),
	}.Event()
	if evt.Type != TypeBorrow {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["amount"] != "400" || evt.Attributes["borrowRate"] != "32" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["reserve"] != reserve.String() {
		t.Fatalf("unexpected reserve attr: %s", evt.Attributes["reserve"])
	}
	if _, ok := evt.Attributes["referralCode"]; ok {
		t.Fatalf("zero referral code should be omitted")
	}
}

func TestCollateralEventType(t *testing.T) {
	on := ReserveUsedAsCollateral{Enabled: true}
	off := ReserveUsedAsCollateral{}
	if on.EventType() != TypeReserveUsedAsCollateralEnable || off.EventType() != TypeReserveUsedAsCollateralDisable {
		t.Fatalf("unexpected collateral event types %s %s", on.EventType(), off.EventType())
	}
	if on.Event().Type != TypeReserveUsedAsCollateralEnable {
		t.Fatalf("rendered type mismatch")
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	var rec Recorder
	rec.Emit(DeficitCreated{Amount: uint256.NewInt(1)})
	rec.Emit(LiquidationCall{})
	types := rec.Types()
	if len(types) != 2 || types[0] != TypeDeficitCreated || types[1] != TypeLiquidationCall {
		t.Fatalf("unexpected order %v", types)
	}
	if Render(rec.Events()[0]).Attributes["amountCreated"] != "1" {
		t.Fatalf("unexpected rendering")
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("reset did not clear events")
	}
}
