package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering addresses.
type AddressPrefix string

const (
	NHBPrefix AddressPrefix = "nhb"
)

// AddressLength is the byte length of an account or asset identifier.
const AddressLength = 20

var errAddressLength = errors.New("address must be 20 bytes long")

// Address identifies an account, an asset or a token ledger. The zero value is
// the zero address and is never a valid participant.
type Address [AddressLength]byte

// BytesToAddress copies b into an Address. It fails unless b is exactly 20
// bytes.
func BytesToAddress(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, errAddressLength
	}
	copy(a[:], b)
	return a, nil
}

// MustAddress is BytesToAddress for constants and tests.
func MustAddress(b []byte) Address {
	a, err := BytesToAddress(b)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex renders the address with a 0x prefix.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(NHBPrefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText renders the bech32 form so addresses read naturally in JSON.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts bech32 or 0x-prefixed hex input.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 address or a 0x-prefixed hex address.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return Address{}, errors.New("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !ethcommon.IsHexAddress(trimmed) {
			return Address{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return Address(ethcommon.HexToAddress(trimmed)), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if AddressPrefix(prefix) != NHBPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return BytesToAddress(conv)
}

// DeriveAddress deterministically derives an address from a label and a set of
// parent addresses. Token ledgers bound to a reserve are derived this way so
// that the same listing always yields the same ledger identities.
func DeriveAddress(label string, parents ...Address) Address {
	parts := make([][]byte, 0, len(parents)+1)
	parts = append(parts, []byte(label))
	for _, parent := range parents {
		parts = append(parts, parent[:])
	}
	digest := ethcrypto.Keccak256(parts...)
	var a Address
	copy(a[:], digest[len(digest)-AddressLength:])
	return a
}
