package fees

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"nhblend/crypto"
)

// UnmarshalTOML decodes a domain policy from a table using either
// snake_case or CamelCase keys:
//
//	[fees.borrow]
//	free_tier_allowance = 3
//	flat_fee = "1000"
//	asset = "nhb1..."
//	route_wallet = "0x..."
func (p *DomainPolicy) UnmarshalTOML(data interface{}) error {
	table, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf("fees: domain policy must decode from a table")
	}
	var decoded DomainPolicy
	for key, value := range table {
		switch normalizeKey(key) {
		case "freetierallowance":
			n, ok := value.(int64)
			if !ok || n < 0 {
				return fmt.Errorf("fees: free_tier_allowance must be a non-negative integer")
			}
			decoded.FreeTierAllowance = uint64(n)
		case "flatfee":
			fee, err := parseAmount(value)
			if err != nil {
				return fmt.Errorf("fees: flat_fee: %w", err)
			}
			decoded.FlatFee = fee
		case "asset":
			addr, err := parseAddress(value)
			if err != nil {
				return fmt.Errorf("fees: asset: %w", err)
			}
			decoded.Asset = addr
		case "routewallet":
			addr, err := parseAddress(value)
			if err != nil {
				return fmt.Errorf("fees: route_wallet: %w", err)
			}
			decoded.RouteWallet = addr
		default:
			return fmt.Errorf("fees: unknown domain policy key %q", key)
		}
	}
	*p = decoded
	return nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", ""))
}

func parseAmount(value interface{}) (*uint256.Int, error) {
	switch v := value.(type) {
	case int64:
		if v < 0 {
			return nil, fmt.Errorf("must not be negative")
		}
		return uint256.NewInt(uint64(v)), nil
	case string:
		return uint256.FromDecimal(strings.TrimSpace(v))
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

func parseAddress(value interface{}) (crypto.Address, error) {
	s, ok := value.(string)
	if !ok {
		return crypto.Address{}, fmt.Errorf("must be a string")
	}
	return crypto.DecodeAddress(s)
}
