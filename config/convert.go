package config

import (
	"fmt"
	"strings"
	"time"

	"algo-exec-go/market"
	"algo-exec-go/order"
	"algo-exec-go/risk"
	"algo-exec-go/strategy/hedge"
	"algo-exec-go/strategy/pair"
	"algo-exec-go/strategy/twap"
)

func parseAssetClass(s string) (market.AssetClass, error) {
	return market.ParseAssetClass(s)
}

func parseSide(s string) (order.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return order.SideBuy, nil
	case "SELL", "S":
		return order.SideSell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Registry 构建标的注册表，未写 asset_class 的按股票处理。
func (c AppConfig) Registry() (*market.Registry, error) {
	list := make([]market.Instrument, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		class := market.AssetEquity
		if ic.AssetClass != "" {
			parsed, err := parseAssetClass(ic.AssetClass)
			if err != nil {
				return nil, err
			}
			class = parsed
		}
		list = append(list, market.Instrument{
			ID:       ic.ID,
			TickSize: ic.TickSize,
			LotSize:  ic.LotSize,
			Class:    class,
		})
	}
	return market.NewRegistry(list)
}

// LimitTable 合并默认限额与标的覆盖（字段为 0 时继承默认值）。
func (c AppConfig) LimitTable() risk.LimitTable {
	def := c.Risk.Defaults.limits()
	table := risk.LimitTable{Default: def, Instruments: make(map[string]risk.Limits, len(c.Instruments))}
	for _, ic := range c.Instruments {
		l := ic.LimitsConfig.limits()
		if l.ParticipationRate == 0 {
			l.ParticipationRate = def.ParticipationRate
		}
		if l.ImbalanceThreshold == 0 {
			l.ImbalanceThreshold = def.ImbalanceThreshold
		}
		if l.VolatilityMultiple == 0 {
			l.VolatilityMultiple = def.VolatilityMultiple
		}
		if l.MaxNetExposure == 0 {
			l.MaxNetExposure = def.MaxNetExposure
		}
		if l.MaxShortRange == 0 {
			l.MaxShortRange = def.MaxShortRange
		}
		table.Instruments[ic.ID] = l
	}
	return table
}

func (l LimitsConfig) limits() risk.Limits {
	return risk.Limits{
		ParticipationRate:  l.ParticipationRate,
		ImbalanceThreshold: l.ImbalanceThreshold,
		VolatilityMultiple: l.VolatilityMultiple,
		MaxNetExposure:     l.MaxNetExposure,
		MaxShortRange:      l.MaxShortRange,
	}
}

func (c AppConfig) TapeConfig() market.TapeConfig {
	return market.TapeConfig{
		VolumeWindow:    c.Risk.VolumeWindow,
		ImbalanceWindow: c.Risk.ImbalanceWindow,
		VolShortWindow:  c.Risk.VolShortWindow,
		VolLongWindow:   c.Risk.VolLongWindow,
	}
}

// TWAPConfigs 展开 TWAP 实例，补上全局默认值。
func (c AppConfig) TWAPConfigs() ([]twap.Config, error) {
	out := make([]twap.Config, 0, len(c.Strategies.TWAP))
	for _, tc := range c.Strategies.TWAP {
		side, err := parseSide(tc.Side)
		if err != nil {
			return nil, fmt.Errorf("twap %s: %w", tc.ID, err)
		}
		end := tc.End
		if end.IsZero() {
			horizon := tc.Horizon
			if horizon <= 0 {
				horizon = c.TWAP.DefaultHorizon
			}
			end = tc.Start.Add(horizon)
		}
		slices := tc.Slices
		if slices == 0 {
			slices = c.TWAP.Slices
		}
		retries := tc.MaxRetries
		if retries == 0 {
			retries = c.TWAP.MaxRetries
		}
		out = append(out, twap.Config{
			ID:               tc.ID,
			Instrument:       tc.Instrument,
			Side:             side,
			Quantity:         tc.Quantity,
			Start:            tc.Start,
			End:              end,
			Slices:           slices,
			MaxParticipation: tc.MaxParticipation,
			MaxRetries:       retries,
			UseLimit:         tc.UseLimit,
		})
	}
	return out, nil
}

func (c AppConfig) PairConfigs() []pair.Config {
	out := make([]pair.Config, 0, len(c.Strategies.Pairs))
	for _, pc := range c.Strategies.Pairs {
		out = append(out, pair.Config{
			ID:                 pc.ID,
			LegA:               pc.LegA,
			LegB:               pc.LegB,
			Ratio:              pc.Ratio,
			Lookback:           pc.Lookback,
			Notional:           pc.Notional,
			Entry:              pc.Entry,
			Exit:               pc.Exit,
			SpreadMean:         pc.SpreadMean,
			RebalanceTolerance: pc.RebalanceTolerance,
			MaxRetries:         pc.MaxRetries,
			UseLimit:           pc.UseLimit,
		})
	}
	return out
}

// HedgeConfig 返回对冲器配置，未启用时 ok 为 false。
func (c AppConfig) HedgeConfig() (hedge.Config, bool) {
	h := c.Hedger
	if !h.Enabled {
		return hedge.Config{}, false
	}
	return hedge.Config{
		ID:              h.ID,
		Stocks:          append([]string(nil), h.Stocks...),
		HedgeInstrument: h.HedgeInstrument,
		Band:            h.Band,
		Window:          h.BetaWindow,
		Cycle:           h.Cycle,
		SampleInterval:  h.SampleInterval,
		Notional:        h.Notional,
		UseLimit:        h.UseLimit,
	}, true
}

// ReconcileInterval 对账周期，<= 0 表示关闭。
func (c AppConfig) ReconcileInterval() time.Duration {
	return c.Venue.ReconcileInterval
}
