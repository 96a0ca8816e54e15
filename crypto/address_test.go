package crypto

import "testing"

func TestAddressBech32RoundTrip(t *testing.T) {
	addr := MustAddress([]byte("0123456789abcdefghij"))
	encoded := addr.String()
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, addr)
	}
}

func TestDecodeAddressHex(t *testing.T) {
	decoded, err := DecodeAddress("0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded[19] != 0xaa {
		t.Fatalf("unexpected byte: %x", decoded[19])
	}
	if _, err := DecodeAddress("0x1234"); err == nil {
		t.Fatalf("expected short hex address to fail")
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"); err == nil {
		t.Fatalf("expected foreign prefix to fail")
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	asset := MustAddress([]byte("asset-asset-asset-00"))
	first := DeriveAddress("atoken", asset)
	second := DeriveAddress("atoken", asset)
	if first != second {
		t.Fatalf("derivation not deterministic")
	}
	if first == DeriveAddress("debt", asset) {
		t.Fatalf("labels must produce distinct addresses")
	}
	if first.IsZero() {
		t.Fatalf("derived address should not be zero")
	}
}
