package market

// Snapshot is a point-in-time market record for one asset. Field tags follow
// the CoinGecko /coins/markets payload so responses decode directly.
type Snapshot struct {
	ID                string  `json:"id"`
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	CurrentPrice      float64 `json:"current_price"`
	PriceChangePct24h float64 `json:"price_change_percentage_24h"`
	High24h           float64 `json:"high_24h"`
	Low24h            float64 `json:"low_24h"`
	MarketCap         float64 `json:"market_cap"`
	TotalVolume       float64 `json:"total_volume"`
	ImageURL          string  `json:"image"`
}

// PricePoint is one sample of a historical price series.
type PricePoint struct {
	TimestampMs int64   `json:"timestamp"`
	Price       float64 `json:"price"`
}

// Series is an ordered price history for a single coin.
type Series struct {
	CoinID   string       `json:"coinId"`
	Currency string       `json:"currency"`
	Days     int          `json:"days"`
	Points   []PricePoint `json:"points"`
}

// Len returns the number of samples.
func (s Series) Len() int {
	return len(s.Points)
}
