package market

// CalculateImbalance calculates the imbalance between buy and sell volumes
// Imbalance = (BuyVol - SellVol) / (BuyVol + SellVol)
func CalculateImbalance(buyVolume float64, sellVolume float64) float64 {
	totalVolume := buyVolume + sellVolume
	if totalVolume == 0 {
		return 0
	}
	return (buyVolume - sellVolume) / totalVolume
}
