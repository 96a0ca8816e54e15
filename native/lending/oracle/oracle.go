// Package oracle defines the price source consumed by the lending core.
package oracle

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"nhblend/crypto"
)

// BaseCurrencyDecimals is the precision of every price, i.e. prices are
// quoted in units of 1e-8 of the base currency.
const BaseCurrencyDecimals = 8

var ErrPriceNotFound = errors.New("oracle: price not set")

// BaseCurrencyUnit returns 10^BaseCurrencyDecimals.
func BaseCurrencyUnit() *uint256.Int { return uint256.NewInt(100_000_000) }

// PriceOracle returns the price of one whole unit of an asset in the base
// currency. A zero price is a valid answer.
type PriceOracle interface {
	GetAssetPrice(asset crypto.Address) (*uint256.Int, error)
}

// StaticOracle is an in-memory oracle fed by configuration or an operator.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[crypto.Address]*uint256.Int
}

// NewStaticOracle returns an oracle without prices.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[crypto.Address]*uint256.Int)}
}

// SetAssetPrice records the price of asset.
func (o *StaticOracle) SetAssetPrice(asset crypto.Address, price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil {
		price = new(uint256.Int)
	}
	o.prices[asset] = new(uint256.Int).Set(price)
}

// GetAssetPrice implements PriceOracle.
func (o *StaticOracle) GetAssetPrice(asset crypto.Address) (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, ErrPriceNotFound
	}
	return new(uint256.Int).Set(price), nil
}

// Prices returns a copy of every configured price.
func (o *StaticOracle) Prices() map[crypto.Address]*uint256.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[crypto.Address]*uint256.Int, len(o.prices))
	for asset, price := range o.prices {
		out[asset] = new(uint256.Int).Set(price)
	}
	return out
}
