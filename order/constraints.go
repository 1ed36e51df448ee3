package order

import (
	"fmt"
	"math"

	"algo-exec-go/market"
)

// InstrumentSource resolves reference data for intent validation.
type InstrumentSource interface {
	Lookup(id string) (market.Instrument, bool)
}

// ValidateIntent 检查数量、标的、方向与精度；失败统一包装为 ErrInvalidIntent，不进入风控。
func ValidateIntent(in Intent, instruments InstrumentSource) (market.Instrument, error) {
	if math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) || in.Quantity <= 0 {
		return market.Instrument{}, fmt.Errorf("%w: quantity %.8f must be > 0", ErrInvalidIntent, in.Quantity)
	}
	if instruments == nil {
		return market.Instrument{}, fmt.Errorf("%w: no instrument registry", ErrInvalidIntent)
	}
	inst, ok := instruments.Lookup(in.Instrument)
	if !ok {
		return market.Instrument{}, fmt.Errorf("%w: unknown instrument %q", ErrInvalidIntent, in.Instrument)
	}
	if in.Side != SideBuy && in.Side != SideSell {
		return inst, fmt.Errorf("%w: side %q", ErrInvalidIntent, in.Side)
	}
	switch in.Type {
	case TypeMarket:
	case TypeLimit:
		if in.LimitPrice <= 0 {
			return inst, fmt.Errorf("%w: limit price %.8f must be > 0", ErrInvalidIntent, in.LimitPrice)
		}
		if !isMultiple(in.LimitPrice, inst.TickSize) {
			return inst, fmt.Errorf("%w: price %.8f not aligned to tickSize %.8f", ErrInvalidIntent, in.LimitPrice, inst.TickSize)
		}
	default:
		return inst, fmt.Errorf("%w: order type %q", ErrInvalidIntent, in.Type)
	}
	if !isMultiple(in.Quantity, inst.LotSize) {
		return inst, fmt.Errorf("%w: qty %.8f not aligned to lotSize %.8f", ErrInvalidIntent, in.Quantity, inst.LotSize)
	}
	return inst, nil
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
