package market

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry([]Instrument{
		{ID: "AAPL", TickSize: 0.01, LotSize: 1, Class: AssetEquity},
		{ID: "ES", TickSize: 0.25, LotSize: 1, Class: AssetIndexFuture},
	})
	require.NoError(t, err)

	inst, ok := reg.Lookup("ES")
	require.True(t, ok)
	assert.Equal(t, AssetIndexFuture, inst.Class)

	_, ok = reg.Lookup("MSFT")
	assert.False(t, ok)
	assert.Equal(t, []string{"AAPL", "ES"}, reg.IDs())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Instrument{{ID: "SPY"}, {ID: "SPY"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateInstrument))
}

func TestInstrumentRounding(t *testing.T) {
	inst := Instrument{ID: "X", TickSize: 0.05, LotSize: 10}
	assert.Equal(t, 120.0, inst.RoundLot(129.9))
	assert.Equal(t, 0.0, inst.RoundLot(9))
	assert.True(t, inst.IsLotMultiple(30))
	assert.False(t, inst.IsLotMultiple(35))
	assert.InDelta(t, 10.05, inst.RoundTick(10.06), 1e-9)
}

func TestParseAssetClass(t *testing.T) {
	c, err := ParseAssetClass("index-future")
	require.NoError(t, err)
	assert.Equal(t, AssetIndexFuture, c)
	_, err = ParseAssetClass("bond")
	assert.Error(t, err)
}

func TestTickClassify(t *testing.T) {
	base := Tick{BidPrice: 99.9, AskPrice: 100.1, LastSize: 10}

	buy := base
	buy.LastPrice = 100.1
	assert.Equal(t, DirBuy, buy.Classify())

	sell := base
	sell.LastPrice = 99.9
	assert.Equal(t, DirSell, sell.Classify())

	inside := base
	inside.LastPrice = 100
	assert.Equal(t, DirUnknown, inside.Classify())

	hinted := inside
	hinted.Direction = DirSell
	assert.Equal(t, DirSell, hinted.Classify())
	assert.InDelta(t, 100.0, base.Mid(), 1e-9)
}
