package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// AssetClass 标的类别。
type AssetClass string

const (
	AssetEquity      AssetClass = "EQUITY"
	AssetIndexFuture AssetClass = "INDEX_FUTURE"
	AssetETF         AssetClass = "ETF"
)

// ParseAssetClass accepts the config spelling (case-insensitive, '-' or '_').
func ParseAssetClass(s string) (AssetClass, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "EQUITY", "STOCK":
		return AssetEquity, nil
	case "INDEX_FUTURE", "FUTURE":
		return AssetIndexFuture, nil
	case "ETF":
		return AssetETF, nil
	default:
		return "", fmt.Errorf("unknown asset class %q", s)
	}
}

// Instrument is immutable reference data, loaded once at startup.
type Instrument struct {
	ID       string
	TickSize float64
	LotSize  float64
	Class    AssetClass
}

var (
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrDuplicateInstrument = errors.New("duplicate instrument")
)

// RoundLot rounds qty down to a whole number of lots.
func (i Instrument) RoundLot(qty float64) float64 {
	if i.LotSize <= 0 {
		return qty
	}
	lots := math.Floor(qty/i.LotSize + 1e-9)
	return lots * i.LotSize
}

// IsLotMultiple 判断数量是否为整手。
func (i Instrument) IsLotMultiple(qty float64) bool {
	if i.LotSize <= 0 {
		return true
	}
	ratio := qty / i.LotSize
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}

// RoundTick snaps a price to the nearest tick.
func (i Instrument) RoundTick(price float64) float64 {
	if i.TickSize <= 0 {
		return price
	}
	return math.Round(price/i.TickSize) * i.TickSize
}

// Registry is a read-only instrument lookup. Safe for concurrent use since it never changes
// after construction.
type Registry struct {
	byID map[string]Instrument
}

func NewRegistry(instruments []Instrument) (*Registry, error) {
	r := &Registry{byID: make(map[string]Instrument, len(instruments))}
	for _, inst := range instruments {
		if inst.ID == "" {
			return nil, errors.New("instrument id is required")
		}
		if inst.TickSize < 0 || inst.LotSize < 0 {
			return nil, fmt.Errorf("instrument %s: tick/lot size must be >= 0", inst.ID)
		}
		if _, ok := r.byID[inst.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInstrument, inst.ID)
		}
		r.byID[inst.ID] = inst
	}
	return r, nil
}

// Lookup 返回标的定义。
func (r *Registry) Lookup(id string) (Instrument, bool) {
	if r == nil {
		return Instrument{}, false
	}
	inst, ok := r.byID[id]
	return inst, ok
}

// IDs returns all instrument ids sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
